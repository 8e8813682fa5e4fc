// Package nlsock exchanges netlink messages with the Linux kernel.
//
// The transport is split into small packages:
//
//   - nlmsg frames and parses netlink messages.
//   - nlbind opens netlink sockets and negotiates their port ids.
//   - reactor runs a single-threaded epoll event loop.
//   - nlconn drives netlink channels on a reactor loop, with asynchronous
//     send completions, per-datagram message delivery, and request/reply talks.
//
// The service package and the nlsock-go command run netlink monitors from a JSON configuration.
package nlsock
