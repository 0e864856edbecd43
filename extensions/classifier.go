// Package extensions decides which PyPI projects are Salt extensions.
package extensions

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/salt-extensions/salt-extensions-metadata/client/pypi"
)

const (
	IncludeFile = "include-pypi-packages.yaml"
	ExcludeFile = "exclude-pypi-packages.yaml"

	// Keyword marks a project as an extension when found in info.keywords.
	Keyword = "salt-extension"
)

// NamePrefixes are the project name prefixes reserved for extensions.
var NamePrefixes = []string{"salt-ext-", "saltext-", "saltext."}

// Reason explains why a project was classified the way it was.
type Reason int

const (
	NotExtension Reason = iota
	Known
	ByName
	ByKeywords
)

func (r Reason) String() string {
	switch r {
	case Known:
		return "known"
	case ByName:
		return "name"
	case ByKeywords:
		return "keywords"
	default:
		return "none"
	}
}

type Classifier struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func NewClassifier(include, exclude []string) *Classifier {
	c := &Classifier{
		include: make(map[string]struct{}, len(include)),
		exclude: make(map[string]struct{}, len(exclude)),
	}
	for _, name := range include {
		c.include[name] = struct{}{}
	}
	for _, name := range exclude {
		c.exclude[name] = struct{}{}
	}
	return c
}

// LoadClassifier reads the include and exclude lists from dataDir.
func LoadClassifier(dataDir string) (*Classifier, error) {
	include, err := readList(filepath.Join(dataDir, IncludeFile))
	if err != nil {
		return nil, err
	}
	exclude, err := readList(filepath.Join(dataDir, ExcludeFile))
	if err != nil {
		return nil, err
	}
	return NewClassifier(include, exclude), nil
}

// ListFiles returns the paths LoadClassifier reads.
func ListFiles(dataDir string) []string {
	return []string{
		filepath.Join(dataDir, IncludeFile),
		filepath.Join(dataDir, ExcludeFile),
	}
}

func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed reading %s", path)
	}
	var names []string
	if err = yaml.Unmarshal(data, &names); err != nil {
		return nil, errors.Wrapf(err, "Failed parsing %s", path)
	}
	return names, nil
}

func HasNamePrefix(name string) bool {
	for _, prefix := range NamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Candidate reports whether name could be an extension judging by the name
// alone. Fast crawls only look up candidates.
func (c *Classifier) Candidate(name string) bool {
	if _, ok := c.exclude[name]; ok {
		return false
	}
	if _, ok := c.include[name]; ok {
		return true
	}
	return HasNamePrefix(name)
}

// Classify decides whether the project is an extension. The include list
// wins over everything, the exclude list over name and keyword detection.
func (c *Classifier) Classify(name string, info pypi.Info) Reason {
	if _, ok := c.include[name]; ok {
		return Known
	}
	if _, ok := c.exclude[name]; ok {
		return NotExtension
	}
	if HasNamePrefix(name) {
		return ByName
	}
	if info.Keywords.Contains(Keyword) {
		return ByKeywords
	}
	return NotExtension
}
