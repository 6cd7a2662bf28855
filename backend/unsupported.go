//go:build !linux

// Package backend is not supported on your system. Only Linux is
// implemented, via epoll, inotify, and the netlink process connector.
package backend
