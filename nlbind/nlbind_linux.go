package nlbind

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Swapped out in tests.
var (
	bind        = unix.Bind
	getsockname = unix.Getsockname
)

// Socket creates a non-blocking, close-on-exec netlink datagram socket for protocol.
func Socket(protocol int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, protocol)
	if err != nil {
		return 0, &SocketError{"socket", err}
	}
	return fd, nil
}

// Bind binds fd to the given port id and multicast groups.
func Bind(fd int, portID, groups uint32) error {
	if err := bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    portID,
		Groups: groups,
	}); err != nil {
		return &SocketError{"bind", err}
	}
	return nil
}

// LocalPortID reads back the port id fd is bound to.
func LocalPortID(fd int) (uint32, error) {
	sa, err := getsockname(fd)
	if err != nil {
		return 0, &SocketError{"getsockname", err}
	}
	nsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		return 0, &SocketError{"getsockname", fmt.Errorf("unexpected address type %T", sa)}
	}
	return nsa.Pid, nil
}

// Negotiate binds fd and returns the port id it ends up with.
//
// A non-zero requested port id is trusted as is. For zero, the kernel assigns
// one, and it is read back from the socket.
func Negotiate(fd int, requested, groups uint32) (uint32, error) {
	if err := Bind(fd, requested, groups); err != nil {
		return 0, err
	}
	if requested != 0 {
		return requested, nil
	}
	return LocalPortID(fd)
}

// Open creates a netlink socket and binds it according to the config.
// The socket is closed on every failure path.
func (c Config) Open() (fd int, portID uint32, err error) {
	fd, err = Socket(c.Protocol)
	if err != nil {
		return 0, 0, err
	}

	portID, err = Negotiate(fd, c.PortID, c.Groups)
	if err != nil {
		_ = unix.Close(fd)
		return 0, 0, err
	}

	return fd, portID, nil
}
