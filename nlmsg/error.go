package nlmsg

import (
	"encoding/binary"
	"errors"
	"syscall"
)

// ErrShortErrorPayload is returned when an NLMSG_ERROR payload is too short to hold an error code.
var ErrShortErrorPayload = errors.New("NLMSG_ERROR payload too short")

// ParseError decodes the error code at the start of an NLMSG_ERROR payload.
//
// The kernel stores the negated errno. A zero errno is an acknowledgement.
func ParseError(payload []byte) (syscall.Errno, error) {
	if len(payload) < 4 {
		return 0, ErrShortErrorPayload
	}
	code := int32(binary.NativeEndian.Uint32(payload))
	if code > 0 {
		// Some families put positive codes here. Treat them the same way.
		return syscall.Errno(code), nil
	}
	return syscall.Errno(-code), nil
}

// AppendErrorPayload appends an NLMSG_ERROR payload carrying errno and the header of the
// original request to b. It mirrors what the kernel sends back for acknowledged requests.
func AppendErrorPayload(b []byte, errno syscall.Errno, req Header) []byte {
	b = binary.NativeEndian.AppendUint32(b, uint32(-int32(errno)))
	var hdr [HeaderLen]byte
	PutHeader(hdr[:], req)
	return append(b, hdr[:]...)
}
