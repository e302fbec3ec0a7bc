// Package keys loads, validates and generates the CURVE key material used
// for transport encryption. Keys are stored as 40-character z85 strings,
// one per file; a key pair lives in FILE (public) and FILE.secret.
package keys

import (
	"os"
	"strings"

	"github.com/mycofs/mycofs/pkg/errors"
	zmq "github.com/pebbe/zmq4"
)

// KeyLen is the length of a z85-encoded CURVE key.
const KeyLen = 40

const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

// SecretSuffix is appended to a public key file name to derive the secret
// key file name.
const SecretSuffix = ".secret"

// Validate reports whether key looks like a z85-encoded CURVE key.
func Validate(key string) error {
	if len(key) != KeyLen {
		return errors.Errorf("key has %d characters, want %d", len(key), KeyLen)
	}
	for i := 0; i < len(key); i++ {
		if !strings.ContainsRune(z85Alphabet, rune(key[i])) {
			return errors.Errorf("key contains non-z85 character %q at position %d", key[i], i)
		}
	}
	return nil
}

// Generate creates a fresh CURVE key pair.
func Generate() (public, secret string, err error) {
	public, secret, err = zmq.NewCurveKeypair()
	if err != nil {
		return "", "", errors.Wrap(err, "curve keypair generation failed (libzmq built without libsodium?)")
	}
	return public, secret, nil
}

// WritePair stores a key pair: the public key at path with mode 0644, the
// secret key at path+SecretSuffix with mode 0600.
func WritePair(path, public, secret string) error {
	if err := os.WriteFile(path, []byte(public), 0o644); err != nil {
		return errors.Wrapf(err, "writing public key file %s", path)
	}
	if err := os.WriteFile(path+SecretSuffix, []byte(secret), 0o600); err != nil {
		return errors.Wrapf(err, "writing secret key file %s", path+SecretSuffix)
	}
	return nil
}

// LoadKey reads and validates one key from a file. Surrounding whitespace
// is tolerated.
func LoadKey(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading key file %s", path)
	}
	key := strings.TrimSpace(string(raw))
	if err := Validate(key); err != nil {
		return "", errors.Wrapf(err, "key file %s", path)
	}
	return key, nil
}

// LoadPair reads a public key from path and the matching secret key from
// path+SecretSuffix.
func LoadPair(path string) (public, secret string, err error) {
	if public, err = LoadKey(path); err != nil {
		return "", "", err
	}
	if secret, err = LoadKey(path + SecretSuffix); err != nil {
		return "", "", err
	}
	return public, secret, nil
}

// LoadAuthorized reads an authorised-keys file: one public key per line,
// blank lines and #-comments ignored.
func LoadAuthorized(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading authorized keys file %s", path)
	}
	var out []string
	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := Validate(line); err != nil {
			return nil, errors.Wrapf(err, "authorized keys file %s line %d", path, i+1)
		}
		out = append(out, line)
	}
	return out, nil
}
