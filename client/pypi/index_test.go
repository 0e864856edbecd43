package pypi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleIndex(t *testing.T) {
	names, err := ParseSimpleIndex(strings.NewReader(simpleIndex))
	require.NoError(t, err)
	assert.Equal(t, []string{"saltext-vault", "requests", "salt-ext-heist"}, names)
}

func TestParseSimpleIndexSkipsEmptyAndDuplicates(t *testing.T) {
	page := `<a href="/a/">a</a><a href="/empty/"></a><a href="/a/">a</a><p>not-a-link</p><a>b</a>`
	names, err := ParseSimpleIndex(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestParseSimpleIndexEmpty(t *testing.T) {
	names, err := ParseSimpleIndex(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestParseSimpleIndexSkipsInvalidNames(t *testing.T) {
	page := `<a>saltext-/../../x</a><a>../etc</a><a>salt ext</a><a>.hidden</a><a>saltext.ok_1</a>`
	names, err := ParseSimpleIndex(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"saltext.ok_1"}, names)
}
