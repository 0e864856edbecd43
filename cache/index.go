package cache

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/salt-extensions/salt-extensions-metadata/logging"
)

var log = logging.Log.WithFields(logrus.Fields{"package": "cache"})

// IndexFile is the name of the index info file inside the cache directory.
const IndexFile = "pypi-index.msgpack"

// PackageState is what the crawler remembers about one project between runs.
type PackageState struct {
	ETag     string `msgpack:"etag,omitempty"`
	NotFound bool   `msgpack:"not-found,omitempty"`
}

// IndexInfo is the persisted view of the simple index.
type IndexInfo struct {
	ETag        string                   `msgpack:"etag,omitempty"`
	Fingerprint string                   `msgpack:"sha256sum,omitempty"`
	Packages    map[string]*PackageState `msgpack:"packages"`
}

func NewIndexInfo() *IndexInfo {
	return &IndexInfo{Packages: make(map[string]*PackageState)}
}

// LoadIndex reads the index info at path. A missing file yields an empty
// index. When the stored fingerprint does not match fingerprint, or
// fingerprint is empty because it could not be computed, every package ETag
// is dropped so that all projects are fetched again.
func LoadIndex(path, fingerprint string) (*IndexInfo, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewIndexInfo(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Failed reading %s", path)
	}

	info := NewIndexInfo()
	if err = msgpack.Unmarshal(data, info); err != nil {
		return nil, errors.Wrapf(err, "Failed decoding %s", path)
	}
	if info.Packages == nil {
		info.Packages = make(map[string]*PackageState)
	}
	for name, state := range info.Packages {
		if state == nil {
			info.Packages[name] = &PackageState{}
		}
	}

	switch {
	case fingerprint == "":
		log.Warn("Unable to fingerprint the crawler. Invalidating the packages ETAG cache.")
		info.DropETags()
	case fingerprint != info.Fingerprint:
		log.Warnf("Crawler fingerprint (%s) does not match %s. Invalidating the packages ETAG cache.", fingerprint, info.Fingerprint)
		info.DropETags()
	}

	return info, nil
}

// Save writes the index info to path, recording fingerprint when it is known.
func (i *IndexInfo) Save(path, fingerprint string) error {
	if fingerprint != "" {
		i.Fingerprint = fingerprint
	}
	data, err := encode(i)
	if err != nil {
		return errors.Wrap(err, "Failed encoding index info")
	}
	return writeFileAtomic(path, data)
}

func (i *IndexInfo) DropETags() {
	for _, state := range i.Packages {
		state.ETag = ""
	}
}

// Names returns the known package names, sorted.
func (i *IndexInfo) Names() []string {
	names := make([]string, 0, len(i.Packages))
	for name := range i.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Diff replaces the known package set with names. Unseen names start with an
// empty state, names that disappeared are dropped. Both lists are sorted.
func (i *IndexInfo) Diff(names []string) (added, removed []string) {
	listed := make(map[string]struct{}, len(names))
	for _, name := range names {
		listed[name] = struct{}{}
		if _, ok := i.Packages[name]; !ok {
			i.Packages[name] = &PackageState{}
			added = append(added, name)
		}
	}
	for name := range i.Packages {
		if _, ok := listed[name]; !ok {
			delete(i.Packages, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
