// Command mycofsd exports a local directory to mycofs clients.
package main

import (
	"io"
	"log/syslog"
	"os"

	"github.com/mycofs/mycofs/pkg/errors"
	log "github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/cobra"

	"github.com/mycofs/mycofs/pkg/keys"
	"github.com/mycofs/mycofs/pkg/server"
	"github.com/mycofs/mycofs/pkg/version"
)

var (
	numWorkers  int
	foreground  bool
	logFile     string
	pidFile     string
	encrypt     bool
	keyFile     string
	pubKeyFile  string
	authFile    string
	verboseLogs bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mycofsd SOCKET DIRECTORY",
		Short:   "export a directory to mycofs clients",
		Version: version.Version,
		Long: `mycofsd serves a directory on a transport endpoint.

The socket argument takes any endpoint the transport understands, e.g.
tcp://0.0.0.0:11555 or ipc:///run/mycofsd.sock.

Without --foreground the server detaches into the background. Warnings and
errors always go to syslog, and additionally to --logfile when given.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args[0], args[1])
		},
	}

	flags := rootCmd.Flags()
	flags.BoolP("version", "v", false, "print version and exit")
	flags.IntVarP(&numWorkers, "numworkers", "n", server.DefaultNumWorkers,
		"number of worker threads")
	flags.BoolVarP(&foreground, "foreground", "f", false, "do not daemonize")
	flags.StringVarP(&logFile, "logfile", "l", "", "log `FILE` (in addition to syslog)")
	flags.StringVarP(&pidFile, "pidfile", "p", "", "write the daemon pid to `FILE`")
	flags.BoolVarP(&encrypt, "encrypt", "e", false, "encrypt the transport")
	flags.StringVarP(&keyFile, "keyfile", "k", "",
		"server public key `FILE` (secret key read from FILE.secret)")
	flags.StringVarP(&pubKeyFile, "pubkeyfile", "P", "",
		"read the server public key from `FILE` instead of the keyfile")
	flags.StringVarP(&authFile, "authorized-keys-file", "a", "",
		"admit only client keys listed in `FILE`")
	flags.BoolVarP(&verboseLogs, "verbose", "V", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verboseLogs {
		log.SetLevel(log.DebugLevel)
	}

	if hook, err := lsyslog.NewSyslogHook("", "",
		syslog.LOG_INFO|syslog.LOG_DAEMON, version.Name+"d"); err == nil {
		log.AddHook(hook)
	} else {
		log.WithError(err).Warn("syslog not available")
	}

	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.WithError(err).Fatalf("could not open logfile %s", logFile)
		}
		log.SetOutput(f)
	case !foreground:
		// daemonized with no logfile: syslog is the only sink
		log.SetOutput(io.Discard)
	}
}

func run(endpoint, directory string) error {
	if numWorkers < 1 || numWorkers > server.MaxNumWorkers {
		return errors.Errorf("numworkers must be between 1 and %d", server.MaxNumWorkers)
	}

	cfg := &server.Config{
		Endpoint:   endpoint,
		Root:       directory,
		NumWorkers: numWorkers,
		Encrypt:    encrypt,
	}

	if encrypt {
		if keyFile == "" {
			return errors.New("--encrypt needs --keyfile")
		}
		secret, err := keys.LoadKey(keyFile + keys.SecretSuffix)
		if err != nil {
			return err
		}
		cfg.SecretKey = secret

		pubFile := keyFile
		if pubKeyFile != "" {
			pubFile = pubKeyFile
		}
		public, err := keys.LoadKey(pubFile)
		if err != nil {
			return err
		}
		log.WithField("key", public).Info("transport encryption enabled")

		if authFile != "" {
			authorized, err := keys.LoadAuthorized(authFile)
			if err != nil {
				return err
			}
			cfg.AuthorizedKeys = authorized
		}
	}

	if !foreground {
		parent, release, err := server.Daemonize(pidFile, logFile)
		if err != nil {
			return err
		}
		if parent {
			return nil
		}
		defer release()
	}

	setupLogging()
	return server.Serve(cfg)
}
