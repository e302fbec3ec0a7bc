package client

import (
	"sync"

	"github.com/mycofs/mycofs/pkg/errors"
	zmq "github.com/pebbe/zmq4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// CurveConfig carries the client side CURVE settings. ServerKey empty means
// plaintext transport. When no client key pair is configured a throwaway
// pair is generated per socket, as the transport requires one.
type CurveConfig struct {
	ServerKey string
	PublicKey string
	SecretKey string
}

// SocketPool hands out one request socket per OS thread, created lazily on
// first use and connected before return. The kernel adapter calls into the
// engine on whatever thread the kernel picked, so callers pin themselves
// with runtime.LockOSThread for the duration of one exchange and the pool
// keys handles by thread id, mirroring what a pthread key would do.
//
// Every handle runs with send/receive high-water marks of 1 and zero
// linger: a client must not queue requests against a server that may never
// answer, and teardown must not block on undelivered frames.
type SocketPool struct {
	ctx      *zmq.Context
	endpoint string
	curve    CurveConfig

	mu    sync.Mutex
	socks map[int]*zmq.Socket
}

// NewSocketPool creates an empty pool for the given context and endpoint.
func NewSocketPool(ctx *zmq.Context, endpoint string, curve CurveConfig) *SocketPool {
	return &SocketPool{
		ctx:      ctx,
		endpoint: endpoint,
		curve:    curve,
		socks:    make(map[int]*zmq.Socket),
	}
}

// dial creates a fresh, configured and connected request socket.
func (p *SocketPool) dial(endpoint string) (*zmq.Socket, error) {
	sock, err := p.ctx.NewSocket(zmq.REQ)
	if err != nil {
		return nil, errors.Wrap(err, "creating request socket")
	}
	ok := false
	defer func() {
		if !ok {
			sock.Close()
		}
	}()

	if err = sock.SetSndhwm(1); err != nil {
		return nil, errors.Wrap(err, "setting send high-water mark")
	}
	if err = sock.SetRcvhwm(1); err != nil {
		return nil, errors.Wrap(err, "setting receive high-water mark")
	}
	if err = sock.SetLinger(0); err != nil {
		return nil, errors.Wrap(err, "setting linger")
	}

	if p.curve.ServerKey != "" {
		pub, sec := p.curve.PublicKey, p.curve.SecretKey
		if pub == "" {
			if pub, sec, err = zmq.NewCurveKeypair(); err != nil {
				return nil, errors.Wrap(err, "generating ephemeral client key pair")
			}
		}
		if err = sock.ClientAuthCurve(p.curve.ServerKey, pub, sec); err != nil {
			return nil, errors.Wrap(err, "installing curve client keys")
		}
	}

	if err = sock.Connect(endpoint); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", endpoint)
	}
	ok = true
	return sock, nil
}

// Get returns the calling thread's socket, creating and connecting it on
// first use. The caller must hold runtime.LockOSThread across Get and the
// exchange that follows.
func (p *SocketPool) Get() (*zmq.Socket, error) {
	tid := unix.Gettid()

	p.mu.Lock()
	defer p.mu.Unlock()

	if sock, have := p.socks[tid]; have {
		return sock, nil
	}

	sock, err := p.dial(p.endpoint)
	if err != nil {
		return nil, err
	}
	log.WithField("tid", tid).Debug("socket pool: new request socket")
	p.socks[tid] = sock
	return sock, nil
}

// Renew destroys the calling thread's socket so the next Get mints a fresh
// one. Called after an ambiguous transport failure: the old handle may sit
// in a desynchronised request/reply state and cannot be trusted again.
func (p *SocketPool) Renew() {
	tid := unix.Gettid()

	p.mu.Lock()
	defer p.mu.Unlock()

	if sock, have := p.socks[tid]; have {
		sock.Close()
		delete(p.socks, tid)
		log.WithField("tid", tid).Debug("socket pool: renewed request socket")
	}
}

// Close destroys all handles in the pool.
func (p *SocketPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for tid, sock := range p.socks {
		sock.Close()
		delete(p.socks, tid)
	}
}
