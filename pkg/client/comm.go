package client

import (
	"runtime"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mycofs/mycofs/pkg/proto"
)

const (
	// sendRetrySleep is the pause between send attempts while the
	// transport reports the socket not ready.
	sendRetrySleep = time.Microsecond

	// pollTick is how long one receive poll blocks before interruption
	// and timeout are checked again.
	pollTick = time.Second
)

// neg turns a local errno into the negated return value the kernel adapter
// expects.
func neg(eno syscall.Errno) int {
	return -int(eno)
}

// transient reports whether a transport error only means "try again".
func transient(err error) bool {
	switch zmq.AsErrno(err) {
	case zmq.Errno(unix.EAGAIN), zmq.Errno(unix.EINTR):
		return true
	}
	return false
}

// communicate performs one request/response exchange on the calling
// thread's pooled socket. It returns the decoded response, or a negated
// errno when the exchange failed locally:
//
//   - EINTR when the kernel adapter interrupted the wait or the engine is
//     shutting down;
//   - EAGAIN when the cumulative timeout elapsed;
//   - ENOTSOCK when the pool cannot provide a socket;
//   - EIO on any other transport or decode failure.
//
// After an ambiguous failure the thread's socket cannot be reused: a stale
// reply may still arrive and would poison the next exchange. Following the
// lazy pirate pattern the socket is renewed on exit instead.
func (e *Engine) communicate(req *proto.Request) (*proto.Response, int) {
	frame := req.Marshal()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sock, err := e.pool.Get()
	if err != nil {
		log.WithError(err).Error("no transport socket for request")
		return nil, neg(unix.ENOTSOCK)
	}

	renew, sent := false, false
	defer func() {
		if renew {
			e.pool.Renew()
		}
	}()

	deadline := time.Now().Add(e.opts.Timeout)

	for {
		if _, err = sock.SendBytes(frame, zmq.DONTWAIT); err == nil {
			break
		}
		if !transient(err) {
			log.WithError(err).WithField("op", req.Op).Warn("send failed, renewing socket")
			renew = true
			return nil, neg(unix.EIO)
		}
		time.Sleep(sendRetrySleep)
		if e.aborted() {
			renew = sent
			return nil, neg(unix.EINTR)
		}
		if time.Now().After(deadline) {
			renew = true
			return nil, neg(unix.EAGAIN)
		}
	}
	sent = true

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)

	for {
		polled, err := poller.Poll(pollTick)
		if err != nil {
			renew = true
			if zmq.AsErrno(err) == zmq.ETERM {
				return nil, neg(unix.EINTR)
			}
			log.WithError(err).WithField("op", req.Op).Warn("receive poll failed, renewing socket")
			return nil, neg(unix.EIO)
		}
		if len(polled) == 0 {
			if e.aborted() {
				renew = true
				return nil, neg(unix.EINTR)
			}
			if time.Now().After(deadline) {
				renew = true
				return nil, neg(unix.EAGAIN)
			}
			continue
		}

		raw, err := sock.RecvBytes(0)
		if err != nil {
			renew = true
			log.WithError(err).WithField("op", req.Op).Warn("receive failed, renewing socket")
			return nil, neg(unix.EIO)
		}
		resp, err := proto.UnmarshalResponse(raw)
		if err != nil {
			renew = true
			log.WithError(err).WithField("op", req.Op).Warn("undecodable response, renewing socket")
			return nil, neg(unix.EIO)
		}
		return resp, 0
	}
}

// roundTrip runs communicate and folds a remote error into a negated local
// errno, so callers only look at opcode-specific response fields when the
// operation succeeded.
func (e *Engine) roundTrip(req *proto.Request) (*proto.Response, int) {
	resp, rc := e.communicate(req)
	if rc != 0 {
		return nil, rc
	}
	if resp.Errno != proto.ErrnoNone {
		log.WithFields(log.Fields{
			"op":    req.Op,
			"errno": resp.Errno,
		}).Debug("remote error")
		return nil, neg(resp.Errno.Local())
	}
	return resp, 0
}
