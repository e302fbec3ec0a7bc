// Package mycofs is a network-transparent filesystem: the mycofs client
// exposes a directory exported by a mycofsd server as a locally mounted
// POSIX filesystem, proxying every operation over a message-oriented
// transport.
//
// The server is stateless per request: each operation names its path,
// offset and size explicitly, is executed against the served root with a
// single system call (or a small bounded group), and is answered with a
// faithful response including the POSIX error code. No file handles, locks
// or mmap state survive a request, so any worker can serve any request and
// a lost connection costs nothing but in-flight operations.
//
// The client keeps one request socket per kernel thread, an attribute
// cache to absorb the getattr storms directory listings trigger, and
// recovers from transport desynchronisation by discarding and redialing
// the affected socket rather than trusting an ambiguous endpoint.
package mycofs
