package hostkey

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bridgessh/hostkey")

// FileName returns the base name of the key file for alg.
func FileName(alg Algorithm) string {
	return fmt.Sprintf("ssh_%s_key.pem", alg.Name())
}

// PEMType returns the PEM block type used for alg's key file.
func PEMType(alg Algorithm) string {
	return strings.ToUpper(alg.Name()) + " PRIVATE KEY"
}

// Path returns the key file path for alg inside dir.
func Path(dir string, alg Algorithm) string {
	return filepath.Join(dir, FileName(alg))
}

// Load reads the host keys in dir, generating and writing any that are
// missing. The directory is created if needed.
//
// Each algorithm has one file, named by FileName and holding a single PEM
// block of type PEMType that wraps the PKCS#8 document from Generate.
// New files are created with mode 0600 and never overwrite an existing one.
//
// A key file that exists but cannot be decoded fails the whole load; it is
// never replaced by a new key. Either every supported algorithm ends up in
// the returned Store or an error is returned.
//
// Parameters:
//   - dir: Key directory, e.g. config.Settings.KeysDir.
//   - rand: Entropy source for missing keys; nil means SystemRandom.
//
// Returns:
//   - *Store: One key per supported algorithm.
//   - error: An *Error of kind ErrIO, ErrPEMDecode or ErrKeyRejected naming
//     the offending path, or ErrUnspecified if generation fails.
//
// Example:
//
//	keys, err := hostkey.Load(cfg.KeysDir, hostkey.SystemRandom())
//	if err != nil { ... }
//	log.Infof("loaded %d host keys", keys.Len())
func Load(dir string, rand io.Reader) (*Store, error) {
	rand = orSystemRandom(rand)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, newError(ErrIO, "load", 0, dir, err)
	}

	keys := make([]HostKey, 0, len(algorithms))
	for _, alg := range algorithms {
		k, err := loadOrGenerate(dir, alg, rand)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return NewStore(keys...)
}

func loadOrGenerate(dir string, alg Algorithm, rand io.Reader) (HostKey, error) {
	path := Path(dir, alg)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		k, err := decodeFile(alg, path, data)
		if err != nil {
			return nil, err
		}
		log.Infof("loaded %s host key from %s (%s)", alg.ID(), path, Fingerprint(k))
		return k, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, newError(ErrIO, "read", alg, path, err)
	}

	log.Infof("%s host key not present, generating", alg.ID())
	der, err := Generate(alg, rand)
	if err != nil {
		return nil, err
	}
	if err := writeFile(alg, path, der); err != nil {
		return nil, err
	}
	k, err := Decode(alg, der)
	if err != nil {
		return nil, err
	}
	log.Infof("wrote %s host key to %s (%s)", alg.ID(), path, Fingerprint(k))
	return k, nil
}

func decodeFile(alg Algorithm, path string, data []byte) (HostKey, error) {
	block, rest := pem.Decode(data)
	if block == nil {
		return nil, newError(ErrPEMDecode, "load", alg, path, errors.New("no PEM block found"))
	}
	if want := PEMType(alg); block.Type != want {
		return nil, newError(ErrPEMDecode, "load", alg, path, fmt.Errorf("block type %q, want %q", block.Type, want))
	}
	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, newError(ErrPEMDecode, "load", alg, path, errors.New("trailing data after PEM block"))
	}

	k, err := Decode(alg, block.Bytes)
	if err != nil {
		var herr *Error
		if errors.As(err, &herr) {
			herr.Path = path
		}
		return nil, err
	}
	return k, nil
}

// writeFile persists der as a new PEM file. It refuses to overwrite an
// existing file and removes a partially written one.
func writeFile(alg Algorithm, path string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return newError(ErrIO, "write", alg, path, err)
	}

	block := &pem.Block{Type: PEMType(alg), Bytes: der}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return newError(ErrIO, "write", alg, path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return newError(ErrIO, "write", alg, path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return newError(ErrIO, "write", alg, path, err)
	}
	return nil
}
