package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(root, p)
			b, err := os.ReadFile(p)
			require.NoError(t, err)
			out[filepath.ToSlash(rel)] = string(b)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func craftArchive(t *testing.T, entries []tar.Header) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "crafted.tar")
	f, err := os.Create(p)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	for _, hdr := range entries {
		hdr := hdr
		body := strings.Repeat("x", int(hdr.Size))
		require.NoError(t, tw.WriteHeader(&hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestPackUnpackRoundTrip(t *testing.T) {
	var tests = []struct {
		name  string
		setup func(t *testing.T) (source string, expected map[string]string)
	}{
		{
			name: "directory tree keeps relative paths and contents",
			setup: func(t *testing.T) (string, map[string]string) {
				src := filepath.Join(t.TempDir(), "photos")
				writeTestTree(t, src, map[string]string{
					"a.txt":             "alpha",
					"nested/b.bin":      string([]byte{0x00, 0x01, 0xff}),
					"nested/deep/c.txt": strings.Repeat("c", 100000),
					"empty.txt":         "",
				})
				require.NoError(t, os.MkdirAll(filepath.Join(src, "emptydir"), 0755))
				return src, map[string]string{
					"photos/a.txt":             "alpha",
					"photos/nested/b.bin":      string([]byte{0x00, 0x01, 0xff}),
					"photos/nested/deep/c.txt": strings.Repeat("c", 100000),
					"photos/empty.txt":         "",
				}
			},
		},
		{
			name: "single file is stored under its base name",
			setup: func(t *testing.T) (string, map[string]string) {
				dir := t.TempDir()
				writeTestTree(t, dir, map[string]string{"report.pdf": "pdf bytes"})
				return filepath.Join(dir, "report.pdf"), map[string]string{"report.pdf": "pdf bytes"}
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			source, expected := tt.setup(t)
			work := t.TempDir()

			artifact, err := Pack(source, work)
			require.NoError(t, err)
			assert.Equal(t, work, filepath.Dir(artifact))
			assert.True(t, strings.HasSuffix(artifact, ".tar"))

			dest := t.TempDir()
			require.NoError(t, Unpack(artifact, dest))
			assert.Equal(t, expected, readTree(t, dest))
		})
	}
}

func TestPackNamesDoNotCollide(t *testing.T) {
	src := t.TempDir()
	writeTestTree(t, src, map[string]string{"f.txt": "1"})
	work := t.TempDir()

	first, err := Pack(src, work)
	require.NoError(t, err)
	second, err := Pack(src, work)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPackMissingSource(t *testing.T) {
	_, err := Pack(filepath.Join(t.TempDir(), "absent"), t.TempDir())
	assert.Error(t, err)
}

func TestUnpackRejectsUnsafeEntries(t *testing.T) {
	var tests = []struct {
		name    string
		entries []tar.Header
	}{
		{
			name: "parent directory traversal",
			entries: []tar.Header{
				{Name: "ok/first.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: 3},
				{Name: "../escaped.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: 3},
			},
		},
		{
			name: "traversal hidden inside a path",
			entries: []tar.Header{
				{Name: "ok/../../escaped.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: 3},
			},
		},
		{
			name: "absolute path",
			entries: []tar.Header{
				{Name: "/tmp/escaped.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: 3},
			},
		},
		{
			name: "symlink pointing outside",
			entries: []tar.Header{
				{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd", Mode: 0777},
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "dest")
			artifact := craftArchive(t, tt.entries)

			err := Unpack(artifact, dest)
			assert.ErrorIs(t, err, ErrUnsafePath)

			_, statErr := os.Stat(filepath.Join(parent, "escaped.txt"))
			assert.True(t, os.IsNotExist(statErr))
			assert.Empty(t, readTree(t, dest))
		})
	}
}

func TestUnpackKeepsExistingFilesOnFailure(t *testing.T) {
	dest := t.TempDir()
	writeTestTree(t, dest, map[string]string{"keep.txt": "mine"})
	artifact := craftArchive(t, []tar.Header{
		{Name: "keep.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: 3},
		{Name: "../bad", Typeflag: tar.TypeReg, Mode: 0644, Size: 1},
	})

	assert.ErrorIs(t, Unpack(artifact, dest), ErrUnsafePath)
	_, err := os.Stat(filepath.Join(dest, "keep.txt"))
	assert.NoError(t, err)
}
