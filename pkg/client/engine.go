// Package client implements the mount side of mycofs: a filesystem engine
// that translates kernel-adapter operations into protocol requests, ships
// them to the server over per-thread transport sockets, and turns the
// responses back into POSIX results.
package client

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mycofs/mycofs/pkg/errors"
	zmq "github.com/pebbe/zmq4"
	log "github.com/sirupsen/logrus"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/mycofs/mycofs/pkg/proto"
)

// inprocEndpoint is where the per-thread request sockets meet the broker.
const inprocEndpoint = "inproc://fuse"

// Options configures an Engine.
type Options struct {
	// Endpoint is the server's transport endpoint (tcp://, ipc://, inproc://).
	Endpoint string

	// Timeout bounds the cumulative wait of one request/response exchange.
	Timeout time.Duration

	// Curve holds the transport encryption keys; zero value means plaintext.
	Curve CurveConfig

	// CacheSize and CacheAge bound the attribute cache.
	CacheSize int
	CacheAge  time.Duration

	// Interrupted, when non-nil, is polled during waits so the kernel
	// adapter can abandon an exchange early.
	Interrupted func() bool
}

// DefaultOptions returns the options the client binary starts from.
func DefaultOptions() Options {
	return Options{
		Timeout:   10 * time.Second,
		CacheSize: 20000,
		CacheAge:  5 * time.Second,
	}
}

// Engine is the client-side filesystem. It embeds the kernel adapter's
// base type so unlisted operations answer ENOSYS, and implements the rest
// by proxying to the server.
type Engine struct {
	fuse.FileSystemBase

	opts  Options
	ctx   *zmq.Context
	pool  *SocketPool
	cache *AttrCache

	brokerDone chan struct{}

	exiting  atomic.Bool
	stopOnce sync.Once

	uid uint32
	gid uint32
}

// New creates an engine; Start must be called before mounting.
func New(opts Options) *Engine {
	return &Engine{
		opts: opts,
		uid:  uint32(os.Getuid()),
		gid:  uint32(os.Getgid()),
	}
}

// Start brings up the transport context, the in-process broker between the
// per-thread sockets and the remote endpoint, the socket pool and the
// attribute cache, then verifies end-to-end reachability with a ping on a
// throwaway socket. Mounting must be refused when Start fails.
func (e *Engine) Start() error {
	ctx, err := zmq.NewContext()
	if err != nil {
		return errors.Wrap(err, "creating transport context")
	}
	e.ctx = ctx

	if err = e.startBroker(); err != nil {
		ctx.Term()
		return err
	}

	e.pool = NewSocketPool(ctx, inprocEndpoint, e.opts.Curve)
	e.cache = NewAttrCache(e.opts.CacheSize, e.opts.CacheAge)

	if err = e.ping(); err != nil {
		e.Stop()
		return errors.Wrapf(err, "server at %s is not reachable", e.opts.Endpoint)
	}
	return nil
}

// startBroker wires a queue device between a ROUTER bound in-process and a
// DEALER connected to the remote endpoint, so the whole mount shares one
// outward connection regardless of how many kernel threads are active.
func (e *Engine) startBroker() error {
	front, err := e.ctx.NewSocket(zmq.DEALER)
	if err != nil {
		return errors.Wrap(err, "creating broker remote socket")
	}
	if err = front.SetLinger(0); err != nil {
		front.Close()
		return errors.Wrap(err, "setting broker linger")
	}
	if e.opts.Curve.ServerKey != "" {
		pub, sec := e.opts.Curve.PublicKey, e.opts.Curve.SecretKey
		if pub == "" {
			if pub, sec, err = zmq.NewCurveKeypair(); err != nil {
				front.Close()
				return errors.Wrap(err, "generating ephemeral client key pair")
			}
		}
		if err = front.ClientAuthCurve(e.opts.Curve.ServerKey, pub, sec); err != nil {
			front.Close()
			return errors.Wrap(err, "installing curve client keys")
		}
	}
	if err = front.Connect(e.opts.Endpoint); err != nil {
		front.Close()
		return errors.Wrapf(err, "connecting to %s", e.opts.Endpoint)
	}

	back, err := e.ctx.NewSocket(zmq.ROUTER)
	if err != nil {
		front.Close()
		return errors.Wrap(err, "creating broker inproc socket")
	}
	if err = back.SetLinger(0); err != nil {
		front.Close()
		back.Close()
		return errors.Wrap(err, "setting broker linger")
	}
	if err = back.Bind(inprocEndpoint); err != nil {
		front.Close()
		back.Close()
		return errors.Wrapf(err, "binding %s", inprocEndpoint)
	}

	e.brokerDone = make(chan struct{})

	go func() {
		defer close(e.brokerDone)
		// returns with ETERM once the context is torn down
		if err := zmq.Proxy(back, front, nil); err != nil {
			if zmq.AsErrno(err) != zmq.ETERM {
				log.WithError(err).Warn("client broker exited")
			}
		}
		back.Close()
		front.Close()
	}()
	return nil
}

// ping sends one PING over a temporary socket, bounded by the configured
// timeout. The broker's inproc endpoint is not used so the check also
// covers a freshly dialed connection.
func (e *Engine) ping() error {
	pool := NewSocketPool(e.ctx, e.opts.Endpoint, e.opts.Curve)
	sock, err := pool.dial(e.opts.Endpoint)
	if err != nil {
		return err
	}
	defer sock.Close()

	// a bounded send keeps the check from hanging on an endpoint nobody
	// listens on
	if err = sock.SetSndtimeo(e.opts.Timeout); err != nil {
		return errors.Wrap(err, "setting ping send timeout")
	}

	frame := proto.NewRequest(proto.OpPing).Marshal()
	if _, err = sock.SendBytes(frame, 0); err != nil {
		return errors.Wrap(err, "sending ping")
	}

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	polled, err := poller.Poll(e.opts.Timeout)
	if err != nil {
		return errors.Wrap(err, "waiting for ping response")
	}
	if len(polled) == 0 {
		return errors.Errorf("no ping response within %s", e.opts.Timeout)
	}

	raw, err := sock.RecvBytes(0)
	if err != nil {
		return errors.Wrap(err, "receiving ping response")
	}
	resp, err := proto.UnmarshalResponse(raw)
	if err != nil {
		return err
	}
	if resp.Op != proto.OpPing || resp.Errno != proto.ErrnoNone {
		return errors.Errorf("unexpected ping response: op %s errno %s", resp.Op, resp.Errno)
	}
	return nil
}

// Stop tears the engine down: pending waits observe the exit flag, the
// socket pool and broker are destroyed, the context is terminated.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.exiting.Store(true)
		if e.pool != nil {
			e.pool.Close()
		}
		if e.ctx != nil {
			e.ctx.Term()
		}
		if e.brokerDone != nil {
			<-e.brokerDone
		}
	})
}

// Destroy implements the kernel adapter's unmount notification.
func (e *Engine) Destroy() {
	e.Stop()
}

// aborted reports whether the current exchange should be abandoned, either
// because the engine is shutting down or the kernel adapter flagged an
// interrupt.
func (e *Engine) aborted() bool {
	if e.exiting.Load() {
		return true
	}
	if e.opts.Interrupted != nil && e.opts.Interrupted() {
		return true
	}
	return false
}

// applyAttrs converts a portable attrs record into the kernel adapter's
// stat shape. The server does not transport uid/gid; files owned (or
// grouped) by the serving process are presented as owned by the local user
// so the kernel's permission checks behave.
func (e *Engine) applyAttrs(st *fuse.Stat_t, a *proto.Attrs) {
	*st = fuse.Stat_t{}
	st.Mode = a.Type.LocalMode() | a.Mode.Mode()
	st.Size = a.Size
	st.Nlink = 1
	if a.IsOwner {
		st.Uid = e.uid
	}
	if a.IsInGroup {
		st.Gid = e.gid
	}
	st.Atim = fuse.Timespec{Sec: a.Times.Access.Sec, Nsec: a.Times.Access.USec * 1000}
	st.Mtim = fuse.Timespec{Sec: a.Times.Modification.Sec, Nsec: a.Times.Modification.USec * 1000}
	st.Ctim = st.Mtim
	if a.Times.Creation != nil {
		st.Birthtim = fuse.Timespec{Sec: a.Times.Creation.Sec, Nsec: a.Times.Creation.USec * 1000}
	}
}
