// Package nlbind opens netlink sockets and negotiates their local port ids.
package nlbind

import "errors"

// Config is the local address of a netlink socket.
type Config struct {
	// Protocol is the netlink family, e.g. 0 for NETLINK_ROUTE.
	Protocol int `json:"protocol"`

	// PortID is the requested local port id.
	// Zero lets the kernel assign one.
	PortID uint32 `json:"portID"`

	// Groups is the multicast group mask to bind to.
	Groups uint32 `json:"groups"`
}

// SocketError is returned when creating, binding, or querying a netlink socket fails.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return "netlink socket: " + e.Op + ": " + e.Err.Error()
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// UnsupportedError is returned on platforms without netlink.
type UnsupportedError struct{}

func (UnsupportedError) Error() string {
	return "netlink is not supported on this platform"
}

func (UnsupportedError) Is(target error) bool {
	return target == errors.ErrUnsupported
}

var ErrUnsupported = UnsupportedError{}
