package archive_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkgt/internal/testutil/debtest"
	"upkgt/pkg/archive"
)

func demoPackage(comp archive.Compression) debtest.Package {
	return debtest.Package{
		Name:        "demo",
		Version:     "1.0",
		ParentDirs:  true,
		Compression: comp,
		Files: []debtest.File{
			{Path: "/usr/bin/demo", Body: "#!/bin/sh\necho demo\n", Mode: 0o755},
			{Path: "/usr/share/doc/demo/README", Body: "hello"},
			{Path: "/usr/bin/demo-alias", Link: "demo"},
		},
	}
}

func TestCompressionFor(t *testing.T) {
	tests := []struct {
		name    string
		want    archive.Compression
		wantErr bool
	}{
		{"data.tar.xz", archive.CompressionXZ, false},
		{"data.tar.gz", archive.CompressionGzip, false},
		{"data.tar.zst", archive.CompressionZstd, false},
		{"data.tar", archive.CompressionNone, false},
		{"data.tar.bz2", archive.CompressionNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := archive.CompressionFor(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewBackend(t *testing.T) {
	sys, err := archive.New("system", nil)
	require.NoError(t, err)
	assert.Equal(t, "system", sys.Name())
	assert.Equal(t, []string{"ar", "tar", "xz"}, sys.Requires())

	native, err := archive.New("native", nil)
	require.NoError(t, err)
	assert.Equal(t, "native", native.Name())
	assert.Empty(t, native.Requires())

	_, err = archive.New("dpkg", nil)
	assert.Error(t, err)
}

func TestArRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	aw := archive.NewArWriter(&buf)
	require.NoError(t, aw.WriteFile("debian-binary", 0o644, []byte("2.0\n")))
	require.NoError(t, aw.WriteFile("odd", 0o644, []byte("abc")))
	require.NoError(t, aw.WriteFile("a-rather-long-member-name.tar.gz", 0o600, []byte("long")))

	ar := archive.NewArReader(&buf)
	want := []struct{ name, body string }{
		{"debian-binary", "2.0\n"},
		{"odd", "abc"},
		{"a-rather-long-member-name.tar.gz", "long"},
	}
	for _, w := range want {
		hdr, err := ar.Next()
		require.NoError(t, err)
		assert.Equal(t, w.name, hdr.Name)
		assert.EqualValues(t, len(w.body), hdr.Size)

		body, err := io.ReadAll(ar)
		require.NoError(t, err)
		assert.Equal(t, w.body, string(body))
	}

	_, err := ar.Next()
	assert.Equal(t, io.EOF, err)
}

func TestArSkipsUnreadMembers(t *testing.T) {
	var buf bytes.Buffer
	aw := archive.NewArWriter(&buf)
	require.NoError(t, aw.WriteFile("one", 0o644, []byte("x")))
	require.NoError(t, aw.WriteFile("two", 0o644, []byte("yy")))

	ar := archive.NewArReader(&buf)
	_, err := ar.Next()
	require.NoError(t, err)

	hdr, err := ar.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", hdr.Name)
}

// gnuMember renders a GNU ar member header and body with padding.
func gnuMember(name, body string) string {
	m := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d`\n", name, 0, 0, 0, 0o644, len(body)) + body
	if len(body)%2 == 1 {
		m += "\n"
	}
	return m
}

func TestArGNULongNames(t *testing.T) {
	table := "a-rather-long-member-name.tar.gz/\n" + "second-very-long-member-name.tar.xz/\n"
	raw := "!<arch>\n" +
		gnuMember("/", "\x00\x00\x00\x00") +
		gnuMember("//", table) +
		gnuMember("/0", "long") +
		gnuMember("debian-binary/", "2.0\n") +
		gnuMember("/34", "odd")

	ar := archive.NewArReader(strings.NewReader(raw))
	want := []struct{ name, body string }{
		{"a-rather-long-member-name.tar.gz", "long"},
		{"debian-binary", "2.0\n"},
		{"second-very-long-member-name.tar.xz", "odd"},
	}
	for _, w := range want {
		hdr, err := ar.Next()
		require.NoError(t, err)
		assert.Equal(t, w.name, hdr.Name)

		body, err := io.ReadAll(ar)
		require.NoError(t, err)
		assert.Equal(t, w.body, string(body))
	}
	_, err := ar.Next()
	assert.Equal(t, io.EOF, err)

	bad := archive.NewArReader(strings.NewReader("!<arch>\n" + gnuMember("/99", "x")))
	_, err = bad.Next()
	assert.ErrorIs(t, err, archive.ErrBadArchive)
}

func TestArBadMagic(t *testing.T) {
	ar := archive.NewArReader(bytes.NewReader([]byte("not an archive at all")))
	_, err := ar.Next()
	assert.ErrorIs(t, err, archive.ErrBadArchive)
}

func TestNativeExtract(t *testing.T) {
	for _, comp := range []archive.Compression{archive.CompressionGzip, archive.CompressionXZ, archive.CompressionZstd} {
		t.Run(string(comp), func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			deb := debtest.Build(t, dir, demoPackage(comp))

			members := filepath.Join(dir, "members")
			require.NoError(t, os.Mkdir(members, 0o755))

			n := archive.NewNative()
			require.NoError(t, n.Extract(ctx, deb, members))

			assert.FileExists(t, filepath.Join(members, "debian-binary"))
			dataTar := filepath.Join(members, "data.tar."+string(comp))
			assert.FileExists(t, dataTar)
			assert.FileExists(t, filepath.Join(members, "control.tar."+string(comp)))

			names, err := n.List(ctx, dataTar)
			require.NoError(t, err)
			assert.Equal(t, demoPackage(comp).Entries(), names)

			dest := filepath.Join(dir, "root")
			require.NoError(t, os.Mkdir(dest, 0o755))
			require.NoError(t, n.ExtractTo(ctx, dataTar, dest))

			body, err := os.ReadFile(filepath.Join(dest, "usr/bin/demo"))
			require.NoError(t, err)
			assert.Equal(t, "#!/bin/sh\necho demo\n", string(body))

			info, err := os.Stat(filepath.Join(dest, "usr/bin/demo"))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

			target, err := os.Readlink(filepath.Join(dest, "usr/bin/demo-alias"))
			require.NoError(t, err)
			assert.Equal(t, "demo", target)
		})
	}
}

func TestNativeExtractRawTar(t *testing.T) {
	dir := t.TempDir()
	pkg := demoPackage(archive.CompressionNone)
	pkg.Raw = true
	deb := debtest.Build(t, dir, pkg)

	n := archive.NewNative()
	require.NoError(t, n.Extract(context.Background(), deb, dir))
	assert.FileExists(t, filepath.Join(dir, "data.tar"))
}

func TestNativeExtractNotAnArchive(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.deb")
	require.NoError(t, os.WriteFile(bogus, []byte("garbage"), 0o644))

	err := archive.NewNative().Extract(context.Background(), bogus, dir)

	var extractErr *archive.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "extract", extractErr.Op)
	assert.ErrorIs(t, err, archive.ErrBadArchive)
}

func TestNativeRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "evil.tar")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(tarPath, buf.Bytes(), 0o644))

	dest := filepath.Join(dir, "dest")
	require.NoError(t, os.Mkdir(dest, 0o755))

	err = archive.NewNative().ExtractTo(context.Background(), tarPath, dest)
	assert.True(t, errors.Is(err, archive.ErrUnsafePath), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, "escape"))
}

func TestNativeRejectsWritesThroughSymlinks(t *testing.T) {
	outside := t.TempDir()

	cases := map[string][]*tar.Header{
		"file below link": {
			{Name: "./evil", Linkname: outside, Typeflag: tar.TypeSymlink},
			{Name: "./evil/pwned", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg},
		},
		"directory over link": {
			{Name: "./evil", Linkname: outside, Typeflag: tar.TypeSymlink},
			{Name: "./evil/", Mode: 0o700, Typeflag: tar.TypeDir},
		},
		"hard link below link": {
			{Name: "./evil", Linkname: outside, Typeflag: tar.TypeSymlink},
			{Name: "./pwned", Linkname: "./evil/secret", Typeflag: tar.TypeLink},
		},
	}

	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			tarPath := filepath.Join(dir, "evil.tar")

			var buf bytes.Buffer
			tw := tar.NewWriter(&buf)
			for _, hdr := range headers {
				require.NoError(t, tw.WriteHeader(hdr))
				if hdr.Size > 0 {
					_, err := tw.Write([]byte("x"))
					require.NoError(t, err)
				}
			}
			require.NoError(t, tw.Close())
			require.NoError(t, os.WriteFile(tarPath, buf.Bytes(), 0o644))

			dest := filepath.Join(dir, "dest")
			require.NoError(t, os.Mkdir(dest, 0o755))

			err := archive.NewNative().ExtractTo(context.Background(), tarPath, dest)
			assert.ErrorIs(t, err, archive.ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(outside, "pwned"))
		})
	}

	info, err := os.Stat(outside)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), "mode of the link target is untouched")
}

func TestNativeFollowsExistingSymlinks(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "demo.tar")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "./bin/", Mode: 0o755, Typeflag: tar.TypeDir}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "./bin/demo", Mode: 0o755, Size: 1, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(tarPath, buf.Bytes(), 0o644))

	dest := filepath.Join(dir, "dest")
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "usr/bin"), 0o755))
	require.NoError(t, os.Symlink("usr/bin", filepath.Join(dest, "bin")))

	require.NoError(t, archive.NewNative().ExtractTo(context.Background(), tarPath, dest))
	assert.FileExists(t, filepath.Join(dest, "usr/bin/demo"))
}

func TestNativeCancelled(t *testing.T) {
	dir := t.TempDir()
	deb := debtest.Build(t, dir, demoPackage(archive.CompressionGzip))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := archive.NewNative().Extract(ctx, deb, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemBackend(t *testing.T) {
	for _, tool := range []string{"ar", "tar"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}

	ctx := context.Background()
	dir := t.TempDir()
	deb := debtest.Build(t, dir, demoPackage(archive.CompressionGzip))

	members := filepath.Join(dir, "members")
	require.NoError(t, os.Mkdir(members, 0o755))

	s := archive.NewSystem(nil)
	require.NoError(t, s.Extract(ctx, deb, members))

	dataTar := filepath.Join(members, "data.tar.gz")
	names, err := s.List(ctx, dataTar)
	require.NoError(t, err)
	assert.Contains(t, names, "./usr/bin/demo")

	dest := filepath.Join(dir, "root")
	require.NoError(t, os.Mkdir(dest, 0o755))
	require.NoError(t, s.ExtractTo(ctx, dataTar, dest))
	assert.FileExists(t, filepath.Join(dest, "usr/bin/demo"))
}

func TestSystemBackendFailureCarriesStderr(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}

	_, err := archive.NewSystem(nil).List(context.Background(), filepath.Join(t.TempDir(), "missing.tar.gz"))

	var extractErr *archive.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "list", extractErr.Op)
	assert.NotEmpty(t, extractErr.Stderr)
}
