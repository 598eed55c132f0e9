package fingerprint

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"docverify/internal/document/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("abc")
const abcHash = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate([]byte("abc"))
	require.NoError(t, err)
	b, err := Generate([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, abcHash, a)
	assert.Len(t, a, Length)
}

func TestGenerate_DistinctContent(t *testing.T) {
	seen := map[string]string{}
	for _, c := range []string{"abc", "abd", "ABC", "abc ", "a", strings.Repeat("x", 4096)} {
		fp, err := Generate([]byte(c))
		require.NoError(t, err)
		if prev, ok := seen[fp]; ok {
			t.Fatalf("collision between %q and %q", prev, c)
		}
		seen[fp] = c
	}
}

func TestGenerate_Empty(t *testing.T) {
	_, err := Generate(nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = Generate([]byte{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestFromReader(t *testing.T) {
	fp, n, err := FromReader(bytes.NewReader([]byte("abc")), 0)
	require.NoError(t, err)
	assert.Equal(t, abcHash, fp)
	assert.Equal(t, int64(3), n)

	fp, n, err = FromReader(bytes.NewReader([]byte("abc")), 3)
	require.NoError(t, err)
	assert.Equal(t, abcHash, fp)
	assert.Equal(t, int64(3), n)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestFromReader_Errors(t *testing.T) {
	_, _, err := FromReader(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, _, err = FromReader(failingReader{}, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, _, err = FromReader(bytes.NewReader([]byte("abcd")), 3)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, _, err = FromReader(nil, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("  0x" + strings.ToUpper(abcHash) + "\n")
	require.NoError(t, err)
	assert.Equal(t, abcHash, got)

	for _, bad := range []string{"", "abc", abcHash[:63] + "z", abcHash + "00"} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}
