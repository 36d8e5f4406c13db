package local

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutThenGet_ReturnsIdenticalBytes(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	contents := []byte(`[{"type": "build", "identifier": "B"}]`)
	locator, err := s.Put(context.Background(), "2023/06/12/mymac_b1.json", bytes.NewReader(contents))
	require.NoError(t, err)
	require.NotEmpty(t, locator)

	r, err := s.Get(context.Background(), locator)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, r.Close())
	}()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, contents, got)
}

func TestPut_NameEscapesRoot_ReturnsError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "../outside.json", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestGet_LocatorOutsideRoot_ReturnsError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "/etc/passwd")
	require.Error(t, err)
}

func TestGet_MissingFile_ReturnsError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), s.root+"/nope.json")
	require.Error(t, err)
}
