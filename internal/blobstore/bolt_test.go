package blobstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(BucketPools, "pool-1", []byte("1-86,2-86")))
	got, err := s.Get(BucketPools, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "1-86,2-86", string(got))

	require.NoError(t, s.Put(BucketPools, "pool-1", []byte("1-86p,2-86")))
	got, err = s.Get(BucketPools, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "1-86p,2-86", string(got))
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(BucketChecks, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Get("unknown-bucket", "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(BucketChecks, "c", []byte("<html>")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(BucketChecks, "c")
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(got))
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(BucketPools, "k", []byte("v")))
	got, err := m.Get(BucketPools, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	_, err = m.Get(BucketPools, "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}
