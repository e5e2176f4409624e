package backup

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestChecksumFile_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	sum1, err := checksumFile(path)
	require.NoError(t, err)
	sum2, err := checksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
	assert.Contains(t, sum1, "sha256:")
}

func TestWriteMetadata_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.msgpack")
	want := Metadata{Filename: "events.db", SizeBytes: 1024, Checksum: "sha256:abc"}
	require.NoError(t, writeMetadata(path, want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Metadata
	require.NoError(t, msgpack.Unmarshal(raw, &got))
	assert.Equal(t, want.Filename, got.Filename)
	assert.Equal(t, want.SizeBytes, got.SizeBytes)
	assert.Equal(t, want.Checksum, got.Checksum)
}

func TestCreateArchive_ContainsExpectedEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.db"), []byte("db-bytes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.msgpack"), []byte("meta-bytes"), 0644))

	archivePath := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, createArchive(archivePath, dir, []string{"events.db", "metadata.msgpack"}))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	assert.ElementsMatch(t, []string{"events.db", "metadata.msgpack"}, names)
}
