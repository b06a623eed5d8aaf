// Package reactor implements a multi-reactor, non-blocking TCP server
// engine: one EventLoop per OS thread, a Channel abstraction over
// epoll/poll readiness, and a TcpServer/TcpConnection pair that hides
// the event loop from application callbacks.
package reactor
