package server

import (
	"github.com/mycofs/mycofs/pkg/errors"
	zmq "github.com/pebbe/zmq4"
	log "github.com/sirupsen/logrus"
)

// curveDomain is the ZAP domain the front socket authenticates against.
const curveDomain = "*"

// startAuth runs the transport library's authentication responder. With an
// authorised-keys list only those client public keys are admitted; without
// one any client holding the server's public key may connect. The wire
// format of the handshake itself is the transport library's business.
func startAuth(authorized []string) error {
	if err := zmq.AuthStart(); err != nil {
		return errors.Wrap(err, "starting authentication responder")
	}

	if len(authorized) == 0 {
		zmq.AuthCurveAdd(curveDomain, zmq.CURVE_ALLOW_ANY)
		log.Info("encryption enabled, any client key admitted")
		return nil
	}

	zmq.AuthCurveAdd(curveDomain, authorized...)
	log.WithField("keys", len(authorized)).Info("encryption enabled with authorized keys")
	return nil
}
