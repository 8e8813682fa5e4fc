package reactor

import (
	"context"
	"encoding/binary"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/database64128/nlsock-go/tslog"
	"golang.org/x/sys/unix"
)

const maxEventsPerWait = 128

type loopState uint8

const (
	stateIdle loopState = iota
	stateRunning
	stateStopping
	stateClosed
)

type watch struct {
	events  Events
	handler Handler
}

// Loop is an epoll-based event loop.
//
// Post, Do, Stop, Wait, and InLoop may be called from any goroutine.
// Watch, Modify, and Unwatch must be called on the loop thread.
type Loop struct {
	logger *tslog.Logger
	epfd   int
	wakefd int
	tid    atomic.Int64

	// watches is only accessed on the loop thread.
	watches map[int]*watch

	mu    sync.Mutex
	state loopState
	tasks []func()

	done chan struct{}
}

// New creates a new loop. Call Start to run it.
func New(logger *tslog.Logger) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &Loop{
		logger:  logger,
		epfd:    epfd,
		wakefd:  wakefd,
		watches: make(map[int]*watch),
		done:    make(chan struct{}),
	}, nil
}

// Start starts the loop goroutine.
// When Start returns, the loop thread is known and InLoop works.
func (l *Loop) Start() error {
	l.mu.Lock()
	if l.state != stateIdle {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.state = stateRunning
	l.mu.Unlock()

	l.spawn()
	return nil
}

func (l *Loop) spawn() {
	started := make(chan struct{})
	go l.run(started)
	<-started
}

// InLoop returns whether the caller is running on the loop thread.
func (l *Loop) InLoop() bool {
	tid := l.tid.Load()
	return tid != 0 && int64(unix.Gettid()) == tid
}

// Post schedules fn to run on the loop thread.
//
// Tasks run in the order they are posted. Once Stop is called, the loop
// still runs every task posted before it terminates, including tasks posted by
// other tasks, so a successfully posted task always runs exactly once.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.state == stateClosed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	// Wake while holding the lock, so the loop cannot close wakefd in between.
	if len(l.tasks) == 0 {
		l.wake()
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	return nil
}

// Do runs fn on the loop thread and waits for it to return.
//
// If called on the loop thread, fn runs inline. If ctx is done first, Do
// returns ctx.Err() and fn may still run later.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.InLoop() {
		fn()
		return nil
	}

	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the loop to terminate after draining its task queue.
// It does not wait. Call Wait for that.
func (l *Loop) Stop() {
	l.mu.Lock()
	switch l.state {
	case stateIdle:
		// Queued tasks still need a loop thread to run on.
		l.state = stateStopping
		l.wake()
		l.mu.Unlock()
		l.spawn()
	case stateRunning:
		l.state = stateStopping
		l.wake()
		l.mu.Unlock()
	default:
		l.mu.Unlock()
	}
}

// Wait blocks until the loop has terminated.
func (l *Loop) Wait() {
	<-l.done
}

func (l *Loop) wake() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(l.wakefd, b[:]); err != nil && err != unix.EAGAIN {
		l.logger.Error("Failed to wake reactor loop", tslog.Err(err))
	}
}

func (l *Loop) drainWakeup() {
	var b [8]byte
	if _, err := unix.Read(l.wakefd, b[:]); err != nil && err != unix.EAGAIN {
		l.logger.Error("Failed to read reactor wakeup counter", tslog.Err(err))
	}
}

// Watch registers handler to be called when fd is ready for events.
func (l *Loop) Watch(fd int, events Events, handler Handler) error {
	if !l.InLoop() {
		return ErrNotInLoop
	}
	if _, ok := l.watches[fd]; ok {
		return ErrAlreadyWatched
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollEvents(events),
		Fd:     int32(fd),
	}); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	l.watches[fd] = &watch{events: events, handler: handler}
	return nil
}

// Modify changes the events watched for on fd.
func (l *Loop) Modify(fd int, events Events) error {
	if !l.InLoop() {
		return ErrNotInLoop
	}
	w, ok := l.watches[fd]
	if !ok {
		return ErrNotWatched
	}
	if w.events == events {
		return nil
	}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollEvents(events),
		Fd:     int32(fd),
	}); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	w.events = events
	return nil
}

// Unwatch removes the handler for fd. It must be called before fd is closed.
func (l *Loop) Unwatch(fd int) error {
	if !l.InLoop() {
		return ErrNotInLoop
	}
	if _, ok := l.watches[fd]; !ok {
		return ErrNotWatched
	}
	delete(l.watches, fd)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func epollEvents(events Events) uint32 {
	var e uint32
	if events&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if events&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func readyEvents(e uint32) Events {
	var ready Events
	if e&unix.EPOLLIN != 0 {
		ready |= Readable
	}
	if e&unix.EPOLLOUT != 0 {
		ready |= Writable
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ready |= Failed
	}
	return ready
}

func (l *Loop) run(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid := unix.Gettid()
	l.tid.Store(int64(tid))
	close(started)

	l.logger.Info("Started reactor loop", tslog.Int("tid", tid))

	events := make([]unix.EpollEvent, maxEventsPerWait)
	for {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.logger.Error("Failed to wait for events, stopping reactor loop", tslog.Err(err))
			l.mu.Lock()
			l.state = stateStopping
			l.mu.Unlock()
			n = 0
		}

		for i := range events[:n] {
			fd := int(events[i].Fd)
			if fd == l.wakefd {
				l.drainWakeup()
				continue
			}
			// The watch may have been removed by an earlier handler in this batch.
			w, ok := l.watches[fd]
			if !ok {
				continue
			}
			w.handler(readyEvents(events[i].Events))
		}

		if !l.runTasks() {
			break
		}
	}

	if len(l.watches) > 0 {
		l.logger.Warn("Reactor loop stopped with fds still watched", tslog.Int("count", len(l.watches)))
		clear(l.watches)
	}
	_ = unix.Close(l.wakefd)
	_ = unix.Close(l.epfd)

	l.tid.Store(0)
	l.logger.Info("Stopped reactor loop", tslog.Int("tid", tid))
	close(l.done)
}

// runTasks runs queued tasks and returns false once the loop should exit.
//
// While running, one batch is processed per wakeup. While stopping, batches are
// processed until the queue is empty, and the loop is closed under the same lock
// that observed the empty queue, so no posted task is lost.
func (l *Loop) runTasks() bool {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		stopping := l.state == stateStopping
		if len(tasks) == 0 && stopping {
			l.state = stateClosed
		}
		l.mu.Unlock()

		for i, fn := range tasks {
			tasks[i] = nil
			fn()
		}

		switch {
		case !stopping:
			return true
		case len(tasks) == 0:
			return false
		}
	}
}

// Timer is a callback scheduled on a loop with [Loop.AfterFunc].
type Timer struct {
	t    *time.Timer
	done atomic.Bool
}

// AfterFunc schedules fn to run on the loop thread after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		if err := l.Post(func() {
			if tm.done.CompareAndSwap(false, true) {
				fn()
			}
		}); err != nil {
			l.logger.Debug("Dropped timer callback", tslog.Err(err))
		}
	})
	return tm
}

// Stop prevents the timer's callback from running.
// It returns false if the callback has already run or the timer was already stopped.
func (t *Timer) Stop() bool {
	t.t.Stop()
	return t.done.CompareAndSwap(false, true)
}
