// Command mycofs mounts a directory exported by a mycofsd server onto a
// local mountpoint.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/mycofs/mycofs/pkg/client"
	"github.com/mycofs/mycofs/pkg/keys"
	"github.com/mycofs/mycofs/pkg/version"
)

var (
	timeoutSec    int
	pubKeyFile    string
	keyFile       string
	cacheSize     int
	attrTimeout   int
	debugLog      bool
	extraFuseOpts []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mycofs SOCKET MOUNTPOINT",
		Short:   "mount a remote directory exported by mycofsd",
		Version: version.Version,
		Long: `mycofs mounts a directory exported by a mycofsd server.

The socket argument takes any endpoint the transport understands:

  tcp://host:port       TCP socket
  ipc:///path/to/sock   UNIX socket
  inproc://name         in-process (testing only)
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args[0], args[1])
		},
	}

	flags := rootCmd.Flags()
	flags.BoolP("version", "V", false, "print version and exit")
	flags.IntVarP(&timeoutSec, "timeout", "t", 10, "request timeout in seconds")
	flags.StringVarP(&pubKeyFile, "pubkeyfile", "P", "", "server public key `FILE`; enables encryption")
	flags.StringVarP(&keyFile, "keyfile", "k", "",
		"client public key `FILE` (secret key read from FILE.secret)")
	flags.IntVar(&cacheSize, "attr-cache-size", 20000, "max entries in the attribute cache")
	flags.IntVar(&attrTimeout, "attr-timeout", 5, "attribute cache entry lifetime in seconds")
	flags.BoolVarP(&debugLog, "debug", "d", false, "enable debug logging")
	flags.StringArrayVarP(&extraFuseOpts, "option", "o", nil, "additional mount options")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(endpoint, mountpoint string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debugLog {
		log.SetLevel(log.DebugLevel)
	}

	opts := client.DefaultOptions()
	opts.Endpoint = endpoint
	opts.Timeout = time.Duration(timeoutSec) * time.Second
	opts.CacheSize = cacheSize
	opts.CacheAge = time.Duration(attrTimeout) * time.Second

	if pubKeyFile != "" {
		serverKey, err := keys.LoadKey(pubKeyFile)
		if err != nil {
			return err
		}
		opts.Curve.ServerKey = serverKey
		if keyFile != "" {
			pub, sec, err := keys.LoadPair(keyFile)
			if err != nil {
				return err
			}
			opts.Curve.PublicKey, opts.Curve.SecretKey = pub, sec
		}
	}

	engine := client.New(opts)
	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	// expose where the mount came from in the mount tables
	fuseArgs := []string{
		"-o", "fsname=" + endpoint,
		"-o", "subtype=" + version.Name,
	}
	for _, opt := range extraFuseOpts {
		fuseArgs = append(fuseArgs, "-o", opt)
	}

	host := fuse.NewFileSystemHost(engine)
	if !host.Mount(mountpoint, fuseArgs) {
		return fmt.Errorf("mounting %s on %s failed", endpoint, mountpoint)
	}
	return nil
}
