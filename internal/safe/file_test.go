package safe

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	t.Run("reads regular file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prog.s")
		require.NoError(t, os.WriteFile(path, []byte("halt\n"), 0o644))

		got, err := ReadFile(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "halt\n", string(got))
	})

	t.Run("rejects symlink by default", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "prog.s")
		link := filepath.Join(dir, "link.s")
		require.NoError(t, os.WriteFile(src, []byte("halt\n"), 0o644))
		require.NoError(t, os.Symlink(src, link))

		_, err := ReadFile(link, nil)
		require.Error(t, err)

		got, err := ReadFile(link, &ReadFileOptions{AllowSymlinks: true})
		require.NoError(t, err)
		assert.Equal(t, "halt\n", string(got))
	})

	t.Run("rejects directory", func(t *testing.T) {
		_, err := ReadFile(t.TempDir(), nil)
		require.Error(t, err)
	})

	t.Run("rejects oversized file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.s")
		require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

		_, err := ReadFile(path, &ReadFileOptions{MaxSize: 16})
		require.Error(t, err)
	})
}

func TestWriteFileAtomic(t *testing.T) {
	t.Run("writes and replaces", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trace.pb.gz")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

		err := WriteFileAtomic(path, 0o600, func(w io.Writer) error {
			_, err := w.Write([]byte("new"))
			return err
		})
		require.NoError(t, err)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("failed write leaves previous file and no temp", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "trace.pb.gz")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

		boom := errors.New("encoder failed")
		err := WriteFileAtomic(path, 0, func(w io.Writer) error {
			_, _ = w.Write([]byte("half"))
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "old", string(got))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("missing directory fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "trace.pb.gz")
		err := WriteFileAtomic(path, 0, func(io.Writer) error { return nil })
		require.Error(t, err)
	})
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("already closed") }

func TestClose(t *testing.T) {
	var buf bytes.Buffer
	Close(failingCloser{}, zerolog.New(&buf), "Failed to close store")
	assert.Contains(t, buf.String(), "already closed")
	assert.Contains(t, buf.String(), "Failed to close store")

	buf.Reset()
	Close(io.NopCloser(nil), zerolog.New(&buf), "unused")
	assert.Zero(t, buf.Len())
}
