package server

import (
	"github.com/mycofs/mycofs/pkg/errors"
	daemon "github.com/sevlyar/go-daemon"
	log "github.com/sirupsen/logrus"
)

// Daemonize forks the server into the background: new session, standard
// descriptors closed (stdout and stderr go to logFile when one is given),
// pid written to pidFile when configured. It returns
// true in the parent process, which must exit without serving; the child
// returns false together with a release handle.
func Daemonize(pidFile, logFile string) (parent bool, release func(), err error) {
	cntxt := &daemon.Context{
		PidFileName: pidFile,
		PidFilePerm: 0o644,
		LogFileName: logFile,
		Umask:       0,
	}

	child, err := cntxt.Reborn()
	if err != nil {
		return false, nil, errors.Wrap(err, "daemonizing")
	}
	if child != nil {
		return true, func() {}, nil
	}

	return false, func() {
		if err := cntxt.Release(); err != nil {
			log.WithError(err).Warn("releasing daemon context")
		}
	}, nil
}
