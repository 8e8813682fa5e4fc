// Package reactor implements a single-threaded event loop.
//
// A [Loop] owns one goroutine locked to one OS thread. File descriptor
// readiness handlers, posted tasks, and timer callbacks all run on that thread,
// one at a time, so state touched only from the loop needs no locking.
package reactor

import "errors"

var (
	// ErrLoopClosed is returned when posting to a loop that has terminated.
	ErrLoopClosed = errors.New("reactor loop is closed")

	// ErrNotInLoop is returned when a loop-thread-only method is called from another thread.
	ErrNotInLoop = errors.New("not called from the reactor thread")

	// ErrAlreadyStarted is returned by Start when the loop is already running or has run.
	ErrAlreadyStarted = errors.New("reactor loop already started")

	// ErrAlreadyWatched is returned by Watch when the fd already has a handler.
	ErrAlreadyWatched = errors.New("fd is already watched")

	// ErrNotWatched is returned by Modify and Unwatch when the fd has no handler.
	ErrNotWatched = errors.New("fd is not watched")
)

// Events is a set of readiness conditions.
type Events uint32

const (
	// Readable means the fd has data to read.
	Readable Events = 1 << iota

	// Writable means the fd can accept more data.
	Writable

	// Failed means an error or hangup condition is pending on the fd.
	// It is always reported, whether watched for or not.
	Failed
)

func (e Events) String() string {
	var b []byte
	for _, ev := range [...]struct {
		mask Events
		name string
	}{
		{Readable, "readable"},
		{Writable, "writable"},
		{Failed, "failed"},
	} {
		if e&ev.mask != 0 {
			if len(b) > 0 {
				b = append(b, '|')
			}
			b = append(b, ev.name...)
		}
	}
	return string(b)
}

// Handler is called on the loop thread when a watched fd becomes ready.
type Handler func(ready Events)
