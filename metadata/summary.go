// Package metadata derives the per-extension summary dataset from the cache.
package metadata

import (
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/salt-extensions/salt-extensions-metadata/cache"
	"github.com/salt-extensions/salt-extensions-metadata/logging"
)

var log = logging.Log.WithFields(logrus.Fields{"package": "metadata"})

type Release struct {
	Version string `yaml:"version"`
	DT      string `yaml:"dt"`
}

type Summary struct {
	Name           string  `yaml:"name"`
	NameNormalized string  `yaml:"name_normalized"`
	Summary        string  `yaml:"summary"`
	Releases       int     `yaml:"releases"`
	ReleaseFirst   Release `yaml:"release_first"`
	ReleaseLatest  Release `yaml:"release_latest"`

	Author          string            `yaml:"author,omitempty"`
	AuthorEmail     string            `yaml:"author_email,omitempty"`
	BugtrackURL     string            `yaml:"bugtrack_url,omitempty"`
	DocsURL         string            `yaml:"docs_url,omitempty"`
	DownloadURL     string            `yaml:"download_url,omitempty"`
	HomePage        string            `yaml:"home_page,omitempty"`
	Maintainer      string            `yaml:"maintainer,omitempty"`
	MaintainerEmail string            `yaml:"maintainer_email,omitempty"`
	PackageURL      string            `yaml:"package_url,omitempty"`
	ProjectURL      string            `yaml:"project_url,omitempty"`
	ProjectURLs     map[string]string `yaml:"project_urls,omitempty"`
	ReleaseURL      string            `yaml:"release_url,omitempty"`
}

// document is the part of a cached PyPI JSON document the summary reads.
type document struct {
	Info struct {
		Name            string            `json:"name"`
		Summary         string            `json:"summary"`
		Author          string            `json:"author"`
		AuthorEmail     string            `json:"author_email"`
		BugtrackURL     string            `json:"bugtrack_url"`
		DocsURL         string            `json:"docs_url"`
		DownloadURL     string            `json:"download_url"`
		HomePage        string            `json:"home_page"`
		Maintainer      string            `json:"maintainer"`
		MaintainerEmail string            `json:"maintainer_email"`
		PackageURL      string            `json:"package_url"`
		ProjectURL      string            `json:"project_url"`
		ProjectURLs     map[string]string `json:"project_urls"`
		ReleaseURL      string            `json:"release_url"`
	} `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type releaseFile struct {
	UploadTime string `json:"upload_time"`
	Yanked     bool   `json:"yanked"`
}

var separators = regexp.MustCompile(`[-_.]+`)

// Normalize returns the PEP 503 normalized form of a project name.
func Normalize(name string) string {
	return strings.ToLower(separators.ReplaceAllString(name, "-"))
}

// liveReleases returns the releases that still have a non-yanked file, oldest
// first. A release is dated by the upload time of its last live file.
func liveReleases(releases map[string][]releaseFile) []Release {
	var out []Release
	for version, files := range releases {
		var last string
		for _, f := range files {
			if !f.Yanked {
				last = f.UploadTime
			}
		}
		if last == "" {
			continue
		}
		out = append(out, Release{Version: version, DT: last})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DT != out[j].DT {
			return out[i].DT < out[j].DT
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func summarize(doc *document) (Summary, bool) {
	releases := liveReleases(doc.Releases)
	if len(releases) == 0 {
		return Summary{}, false
	}

	info := doc.Info
	return Summary{
		Name:           info.Name,
		NameNormalized: Normalize(info.Name),
		Summary:        strings.TrimSpace(info.Summary),
		Releases:       len(releases),
		ReleaseFirst:   releases[0],
		ReleaseLatest:  releases[len(releases)-1],

		Author:          info.Author,
		AuthorEmail:     info.AuthorEmail,
		BugtrackURL:     info.BugtrackURL,
		DocsURL:         info.DocsURL,
		DownloadURL:     info.DownloadURL,
		HomePage:        info.HomePage,
		Maintainer:      info.Maintainer,
		MaintainerEmail: info.MaintainerEmail,
		PackageURL:      info.PackageURL,
		ProjectURL:      info.ProjectURL,
		ProjectURLs:     info.ProjectURLs,
		ReleaseURL:      info.ReleaseURL,
	}, true
}

// Summarize builds one summary per cached extension, in cache order.
// Extensions without a single live release are left out, as are documents
// that fail to decode.
func Summarize(store *cache.Store) ([]Summary, error) {
	names, err := store.List()
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, name := range names {
		var doc document
		if err := store.Load(name, &doc); err != nil {
			log.Error(errors.Wrapf(err, "Skipping %s", name))
			continue
		}
		s, ok := summarize(&doc)
		if !ok {
			log.Debugf("Skipping %s, it has no live releases", name)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteYAML writes summaries as a stream of YAML documents, each one starting
// with a "---" marker.
func WriteYAML(w io.Writer, summaries []Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return errors.Wrap(err, "Failed writing YAML")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, s := range summaries {
		if err := enc.Encode(s); err != nil {
			return errors.Wrapf(err, "Failed encoding %s", s.Name)
		}
	}
	return errors.Wrap(enc.Close(), "Failed flushing YAML")
}
