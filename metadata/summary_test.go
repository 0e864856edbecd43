package metadata

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/salt-extensions/salt-extensions-metadata/cache"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "saltext-vault", Normalize("saltext.vault"))
	assert.Equal(t, "saltext-vault", Normalize("SaltExt__Vault"))
	assert.Equal(t, "salt-ext-heist", Normalize("salt-ext.-_heist"))
}

func vaultDoc() map[string]any {
	return map[string]any{
		"info": map[string]any{
			"name":         "saltext.vault",
			"summary":      "  Salt Extension for Vault \n",
			"author":       "Salt Core",
			"author_email": "salt@example.com",
			"home_page":    "",
			"license":      "Apache-2.0",
			"project_urls": map[string]any{"Source": "https://github.com/salt-extensions/saltext-vault"},
			"docs_url":     nil,
		},
		"releases": map[string]any{
			"1.0.0": []any{
				map[string]any{"upload_time": "2023-01-01T00:00:00", "yanked": false},
				map[string]any{"upload_time": "2023-01-02T00:00:00", "yanked": false},
			},
			"1.1.0": []any{
				map[string]any{"upload_time": "2023-06-01T00:00:00", "yanked": true},
			},
			"1.2.0": []any{
				map[string]any{"upload_time": "2024-02-01T00:00:00", "yanked": false},
				map[string]any{"upload_time": "2024-03-01T00:00:00", "yanked": true},
			},
			"0.1.0": []any{},
		},
	}
}

func TestSummarize(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("saltext-vault", vaultDoc()))
	require.NoError(t, store.Write("saltext-dead", map[string]any{
		"info":     map[string]any{"name": "saltext-dead", "summary": ""},
		"releases": map[string]any{"0.1": []any{map[string]any{"upload_time": "2020-01-01T00:00:00", "yanked": true}}},
	}))

	summaries, err := Summarize(store)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "saltext.vault", s.Name)
	assert.Equal(t, "saltext-vault", s.NameNormalized)
	assert.Equal(t, "Salt Extension for Vault", s.Summary)
	assert.Equal(t, 2, s.Releases)
	assert.Equal(t, Release{Version: "1.0.0", DT: "2023-01-02T00:00:00"}, s.ReleaseFirst)
	assert.Equal(t, Release{Version: "1.2.0", DT: "2024-02-01T00:00:00"}, s.ReleaseLatest)
	assert.Equal(t, "Salt Core", s.Author)
	assert.Equal(t, "salt@example.com", s.AuthorEmail)
	assert.Empty(t, s.DocsURL)
	assert.Equal(t, map[string]string{"Source": "https://github.com/salt-extensions/saltext-vault"}, s.ProjectURLs)
}

func TestWriteYAML(t *testing.T) {
	summaries := []Summary{
		{Name: "saltext.a", NameNormalized: "saltext-a", Releases: 1, ReleaseFirst: Release{"1", "d"}, ReleaseLatest: Release{"1", "d"}},
		{Name: "saltext.b", NameNormalized: "saltext-b", Releases: 1, HomePage: "https://example.com"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, summaries))
	assert.True(t, strings.HasPrefix(buf.String(), "---\n"))
	assert.Equal(t, 2, strings.Count(buf.String(), "---\n"))

	dec := yaml.NewDecoder(&buf)
	var got []map[string]any
	for {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			break
		}
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "saltext-a", got[0]["name_normalized"])
	assert.NotContains(t, got[0], "home_page")
	assert.Equal(t, "https://example.com", got[1]["home_page"])
}
