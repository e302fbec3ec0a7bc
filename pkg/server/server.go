// Package server implements the export side of mycofs: an orchestrator
// that binds the outward endpoint, fans decoded requests out to a pool of
// workers over an in-process queue device, and executes them against a
// single served root directory.
package server

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mycofs/mycofs/pkg/errors"
	zmq "github.com/pebbe/zmq4"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultNumWorkers is the worker pool size when none is configured.
	DefaultNumWorkers = 5

	// MaxNumWorkers bounds the configurable pool size.
	MaxNumWorkers = 200
)

// Config carries everything Serve needs.
type Config struct {
	// Endpoint is the outward transport endpoint to bind (tcp://, ipc://,
	// inproc://).
	Endpoint string

	// Root is the directory to export. It is canonicalised before use and
	// every client path is joined with it.
	Root string

	// NumWorkers is the size of the worker pool. Values below 1 select
	// DefaultNumWorkers; values above MaxNumWorkers are capped to it.
	NumWorkers int

	// Encrypt enables CURVE encryption on the front socket; SecretKey must
	// then hold the server's z85 secret key.
	Encrypt   bool
	SecretKey string

	// AuthorizedKeys restricts encrypted connections to the listed client
	// public keys. Empty means any client key is admitted.
	AuthorizedKeys []string
}

// Serve runs the orchestrator until SIGTERM or SIGINT arrives: binds the
// front socket and the in-process worker endpoint, starts the workers,
// then runs the transport's queue device between the two so each worker
// pulls the next available request regardless of its origin.
func Serve(cfg *Config) error {
	root, err := filepath.EvalSymlinks(cfg.Root)
	if err != nil {
		return errors.Wrapf(err, "resolving export root %s", cfg.Root)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "stat export root %s", root)
	}
	if !fi.IsDir() {
		return errors.Errorf("export root %s is not a directory", root)
	}

	numWorkers := cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = DefaultNumWorkers
	}
	if numWorkers > MaxNumWorkers {
		numWorkers = MaxNumWorkers
	}

	// everything runs on the transport's default context: the auth
	// responder serves ZAP requests there, and authentication only covers
	// sockets of the same context
	if cfg.Encrypt {
		if err = startAuth(cfg.AuthorizedKeys); err != nil {
			return err
		}
		defer zmq.AuthStop()
	}

	front, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return errors.Wrap(err, "creating front socket")
	}
	if err = front.SetLinger(0); err != nil {
		front.Close()
		return errors.Wrap(err, "setting front linger")
	}
	if cfg.Encrypt {
		if err = front.ServerAuthCurve(curveDomain, cfg.SecretKey); err != nil {
			front.Close()
			return errors.Wrap(err, "installing curve server key")
		}
	}
	if err = front.Bind(cfg.Endpoint); err != nil {
		front.Close()
		return errors.Wrapf(err, "binding %s", cfg.Endpoint)
	}

	back, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		front.Close()
		return errors.Wrap(err, "creating worker fan-out socket")
	}
	if err = back.SetLinger(0); err == nil {
		err = back.Bind(workerEndpoint)
	}
	if err != nil {
		front.Close()
		back.Close()
		return errors.Wrapf(err, "binding %s", workerEndpoint)
	}

	bufs := NewBufPool()
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		w := NewWorker(i, root, bufs)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Serve(); err != nil {
				log.WithError(err).Error("worker failed to start")
			}
		}()
	}

	// terminating the context makes every blocked socket call, the queue
	// device included, return ETERM
	var termOnce sync.Once
	terminate := func() {
		termOnce.Do(func() {
			if err := zmq.Term(); err != nil {
				log.WithError(err).Warn("terminating transport context")
			}
		})
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig, ok := <-sigC
		if !ok {
			return
		}
		log.WithField("signal", sig).Info("shutting down")
		terminate()
	}()

	log.WithFields(log.Fields{
		"root":     root,
		"endpoint": cfg.Endpoint,
		"workers":  numWorkers,
	}).Info("serving directory")

	err = zmq.Proxy(front, back, nil)
	if err != nil && zmq.AsErrno(err) != zmq.ETERM {
		log.WithError(err).Error("queue device failed")
	} else {
		err = nil
	}

	front.Close()
	back.Close()
	terminate()
	wg.Wait()
	signal.Stop(sigC)
	close(sigC)
	return err
}
