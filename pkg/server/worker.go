package server

import (
	"github.com/mycofs/mycofs/pkg/errors"
	zmq "github.com/pebbe/zmq4"
	log "github.com/sirupsen/logrus"

	"github.com/mycofs/mycofs/pkg/proto"
)

// workerEndpoint is the in-process endpoint the orchestrator fans requests
// out on.
const workerEndpoint = "inproc://workers"

// Worker consumes decoded requests from the fan-out endpoint, dispatches
// them to the per-opcode handlers and ships faithful responses back,
// including the POSIX error codes of failed operations.
type Worker struct {
	id   int
	root string
	bufs *BufPool
}

// NewWorker creates a worker serving the given (already canonicalised)
// root directory.
func NewWorker(id int, root string, bufs *BufPool) *Worker {
	return &Worker{id: id, root: root, bufs: bufs}
}

// Process turns one request frame into one response frame. It never
// returns an undecodable result: protocol failures become error responses.
func (w *Worker) Process(frame []byte) []byte {
	req, err := proto.UnmarshalRequest(frame)
	if err != nil {
		log.WithField("worker", w.id).Warn("could not unpack incoming message")
		resp := proto.NewResponse(proto.OpUnknown)
		resp.Errno = proto.ErrnoUnserializable
		return resp.Marshal()
	}

	resp := proto.NewResponse(req.Op)
	if eno := req.Validate(); eno != proto.ErrnoNone {
		if !req.Op.Dispatchable() {
			resp.Op = proto.OpInvalid
		}
		log.WithFields(log.Fields{"worker": w.id, "op": req.Op}).Warn("invalid request")
		resp.Errno = eno
		return resp.Marshal()
	}

	w.dispatch(req, resp)

	if log.IsLevelEnabled(log.DebugLevel) {
		entry := log.WithFields(log.Fields{"worker": w.id, "op": req.Op, "errno": resp.Errno})
		if req.Path != nil {
			entry = entry.WithField("path", *req.Path)
		}
		entry.Debug("handled request")
	}
	return resp.Marshal()
}

func (w *Worker) dispatch(req *proto.Request, resp *proto.Response) {
	switch req.Op {
	case proto.OpPing:
		w.opPing(req, resp)
	case proto.OpReaddir:
		w.opReaddir(req, resp)
	case proto.OpGetattr:
		w.opGetattr(req, resp)
	case proto.OpMkdir:
		w.opMkdir(req, resp)
	case proto.OpRmdir:
		w.opRmdir(req, resp)
	case proto.OpUnlink:
		w.opUnlink(req, resp)
	case proto.OpAccess:
		w.opAccess(req, resp)
	case proto.OpOpen:
		w.opOpen(req, resp)
	case proto.OpCreate:
		w.opCreate(req, resp)
	case proto.OpRead:
		w.opRead(req, resp)
	case proto.OpWrite:
		w.opWrite(req, resp)
	case proto.OpTruncate:
		w.opTruncate(req, resp)
	case proto.OpChmod:
		w.opChmod(req, resp)
	case proto.OpUtimens:
		w.opUtimens(req, resp)
	case proto.OpRename:
		w.opRename(req, resp)
	case proto.OpLink:
		w.opLink(req, resp)
	case proto.OpSymlink:
		w.opSymlink(req, resp)
	case proto.OpReadlink:
		w.opReadlink(req, resp)
	case proto.OpMknod:
		w.opMknod(req, resp)
	case proto.OpStatfs:
		w.opStatfs(req, resp)
	default:
		resp.Op = proto.OpInvalid
		resp.Errno = proto.ErrnoInvalidRequest
	}
}

// Serve connects a reply socket to the fan-out endpoint and loops until the
// transport context is terminated. Receive errors other than termination
// are logged and the loop continues.
func (w *Worker) Serve() error {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return errors.Wrap(err, "creating worker socket")
	}
	defer sock.Close()

	if err = sock.SetLinger(0); err != nil {
		return errors.Wrap(err, "setting worker linger")
	}
	if err = sock.Connect(workerEndpoint); err != nil {
		return errors.Wrapf(err, "connecting worker to %s", workerEndpoint)
	}

	log.WithField("worker", w.id).Debug("worker ready")
	for {
		frame, err := sock.RecvBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				log.WithField("worker", w.id).Debug("context terminated, worker exiting")
				return nil
			}
			log.WithError(err).WithField("worker", w.id).Warn("worker receive failed")
			continue
		}

		reply := w.Process(frame)

		if _, err = sock.SendBytes(reply, 0); err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return nil
			}
			log.WithError(err).WithField("worker", w.id).Warn("worker send failed")
		}
	}
}
