package pypi

import (
	"encoding/json"
	"strings"
)

// Info is the subset of a project's "info" object the crawler reads.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Summary  string   `json:"summary"`
	Keywords Keywords `json:"keywords"`
}

type Package struct {
	Info Info `json:"info"`
}

// Keywords holds info.keywords. PyPI usually serves a single free-form string;
// the occasional list is joined with commas.
type Keywords string

func (k *Keywords) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = Keywords(s)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		// null and anything else unexpected is treated as "no keywords"
		*k = ""
		return nil
	}
	*k = Keywords(strings.Join(list, ","))
	return nil
}

// Contains reports whether sub appears anywhere in the keywords.
func (k Keywords) Contains(sub string) bool {
	return strings.Contains(string(k), sub)
}

// IndexResponse describes the outcome of a simple index download.
type IndexResponse struct {
	NotModified bool
	ETag        string
	Size        int64
}

// PackageResponse is a project's JSON document. Raw keeps every field PyPI
// sent so the cache stores the full document.
type PackageResponse struct {
	NotModified bool
	ETag        string
	Package     Package
	Raw         map[string]any
}
