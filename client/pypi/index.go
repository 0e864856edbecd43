package pypi

import (
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

var projectName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ParseSimpleIndex returns the text of every anchor in a simple index page,
// in document order and without duplicates. The page is tokenized as it is
// read since the full index holds hundreds of thousands of links. Anchors
// that are not valid project names are skipped.
func ParseSimpleIndex(r io.Reader) ([]string, error) {
	var (
		names    []string
		seen     = make(map[string]struct{})
		inAnchor bool
		text     strings.Builder
	)

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, errors.Wrap(err, "Failed parsing the simple index")
			}
			return names, nil
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "a" {
				inAnchor = true
				text.Reset()
			}
		case html.TextToken:
			if inAnchor {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" && inAnchor {
				inAnchor = false
				n := strings.TrimSpace(text.String())
				if !projectName.MatchString(n) {
					if n != "" {
						log.Warnf("Skipping invalid project name %q in the simple index", n)
					}
					continue
				}
				if _, ok := seen[n]; ok {
					continue
				}
				seen[n] = struct{}{}
				names = append(names, n)
			}
		}
	}
}
