package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	IndexETagFile      = "pypi-index-etag"
	ExtensionsHashFile = "known-extensions-hash"
)

// StateDir holds small files CI pipelines key their caches on.
type StateDir struct {
	Dir string
}

func NewStateDir(dir string) (*StateDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "Failed creating %s", dir)
	}
	return &StateDir{Dir: dir}, nil
}

func (s *StateDir) WriteIndexETag(etag string) error {
	return writeFileAtomic(filepath.Join(s.Dir, IndexETagFile), []byte(etag))
}

// WriteExtensionsHash records ExtensionsHash(store) and returns it.
func (s *StateDir) WriteExtensionsHash(store *Store) (string, error) {
	sum, err := ExtensionsHash(store)
	if err != nil {
		return "", err
	}
	return sum, writeFileAtomic(filepath.Join(s.Dir, ExtensionsHashFile), []byte(sum))
}

// ExtensionsHash digests every stored document together with its name. The
// result only changes when the set of extensions or one of their documents
// does.
func ExtensionsHash(store *Store) (string, error) {
	names, err := store.List()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, name := range names {
		data, err := store.ReadRaw(name)
		if err != nil {
			return "", err
		}
		io.WriteString(h, name)
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
