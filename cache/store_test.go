package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedInfo struct {
	Info struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
	} `json:"info"`
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStoreWriteLoadRemove(t *testing.T) {
	s := newStore(t)

	doc := map[string]any{
		"info":     map[string]any{"name": "saltext.vault", "summary": "Vault"},
		"releases": map[string]any{},
	}
	require.NoError(t, s.Write("saltext-vault", doc))
	assert.True(t, s.Exists("saltext-vault"))

	var got storedInfo
	require.NoError(t, s.Load("saltext-vault", &got))
	assert.Equal(t, "saltext.vault", got.Info.Name)
	assert.Equal(t, "Vault", got.Info.Summary)

	require.NoError(t, s.Remove("saltext-vault"))
	assert.False(t, s.Exists("saltext-vault"))
	require.NoError(t, s.Remove("saltext-vault"))
}

func TestStoreRejectsNamesOutsideDir(t *testing.T) {
	s := newStore(t)
	outside := filepath.Join(filepath.Dir(s.Dir), "x.msgpack")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	for _, name := range []string{"../x", "saltext-/../../x", "a/b", ".hidden", ""} {
		err := s.Write(name, map[string]any{"info": map[string]any{}})
		assert.ErrorIs(t, err, ErrInvalidName, name)
		assert.ErrorIs(t, s.Remove(name), ErrInvalidName, name)
		assert.False(t, s.Exists(name), name)
	}

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStoreList(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"saltext.b", "saltext-a", "salt-ext-c"} {
		require.NoError(t, s.Write(name, map[string]any{"info": map[string]any{"name": name}}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, ".partial.msgpack"), nil, 0o644))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"salt-ext-c", "saltext-a", "saltext.b"}, names)
}

func TestExtensionsHash(t *testing.T) {
	s := newStore(t)
	empty, err := ExtensionsHash(s)
	require.NoError(t, err)

	doc := map[string]any{"info": map[string]any{"name": "a", "summary": "x", "version": "1"}}
	require.NoError(t, s.Write("a", doc))
	h1, err := ExtensionsHash(s)
	require.NoError(t, err)
	assert.NotEqual(t, empty, h1)

	// rewriting the same document keeps the hash stable
	require.NoError(t, s.Write("a", doc))
	h2, err := ExtensionsHash(s)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	doc["info"].(map[string]any)["version"] = "2"
	require.NoError(t, s.Write("a", doc))
	h3, err := ExtensionsHash(s)
	require.NoError(t, err)
	assert.NotEqual(t, h2, h3)
}

func TestStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	sd, err := NewStateDir(dir)
	require.NoError(t, err)

	require.NoError(t, sd.WriteIndexETag(`"etag"`))
	data, err := os.ReadFile(filepath.Join(dir, IndexETagFile))
	require.NoError(t, err)
	assert.Equal(t, `"etag"`, string(data))

	s := newStore(t)
	sum, err := sd.WriteExtensionsHash(s)
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, ExtensionsHashFile))
	require.NoError(t, err)
	assert.Equal(t, sum, string(data))
}
