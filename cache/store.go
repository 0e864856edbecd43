package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// PackagesDir holds one msgpack document per detected extension.
	PackagesDir = "packages-info"

	ext = ".msgpack"
)

// ErrInvalidName is returned for package names that cannot be used as a file
// name inside the store.
var ErrInvalidName = errors.New("invalid package name")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is the on-disk cache of extension documents, keyed by package name.
type Store struct {
	Dir string
}

func NewStore(cachePath string) (*Store, error) {
	dir := filepath.Join(cachePath, PackagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "Failed creating %s", dir)
	}
	return &Store{Dir: dir}, nil
}

// encode produces msgpack with sorted map keys so identical documents always
// encode to identical bytes.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// path maps name to its document. Names are limited to the characters PyPI
// allows so they never leave Dir.
func (s *Store) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return filepath.Join(s.Dir, name+ext), nil
}

// Write stores doc under name, replacing any earlier version.
func (s *Store) Write(name string, doc any) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return errors.Wrapf(err, "Failed encoding %s", name)
	}
	return writeFileAtomic(p, data)
}

// Remove deletes the document for name. Removing an absent entry is a no-op.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "Failed removing %s", name)
	}
	return nil
}

func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// List returns the names of all stored documents, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed listing %s", s.Dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// ReadRaw returns the encoded document for name.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed reading %s", name)
	}
	return data, nil
}

// Load decodes the document for name into v. Struct fields are matched by
// their json tags, the same names PyPI uses.
func (s *Store) Load(name string, v any) error {
	data, err := s.ReadRaw(name)
	if err != nil {
		return err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return errors.Wrapf(dec.Decode(v), "Failed decoding %s", name)
}
