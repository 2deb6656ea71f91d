package assets

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractNormalizesPaths(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"index.html":     "<html></html>",
		"css/style.css":  "body{}",
		"./js/./app.js":  "console.log(1)",
		"img\\logo.png":  "png",
		"/abs/rooted.js": "x",
	})

	files, err := Extract(archive)
	require.NoError(t, err)
	require.Len(t, files, 5)
	require.Equal(t, []byte("<html></html>"), files["/index.html"])
	require.Equal(t, []byte("body{}"), files["/css/style.css"])
	require.Equal(t, []byte("console.log(1)"), files["/js/app.js"])
	require.Equal(t, []byte("png"), files["/img/logo.png"])
	require.Equal(t, []byte("x"), files["/abs/rooted.js"])
}

func TestExtractSkipsDirectoryEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("static/")
	require.NoError(t, err)
	w, err := zw.Create("static/a.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	files, err := Extract(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Contains(t, files, "/static/a.txt")
}

func TestExtractRejectsTraversal(t *testing.T) {
	archive := buildZip(t, map[string]string{"../escape.txt": "nope"})
	_, err := Extract(archive)
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes the archive root")
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := Extract([]byte("definitely not a zip"))
	require.Error(t, err)
}

func TestBuildManifestHashesContent(t *testing.T) {
	files := map[string][]byte{
		"/a.txt": []byte("alpha"),
		"/b.txt": []byte("beta"),
	}
	m := BuildManifest(files)
	require.Len(t, m, 2)

	sum := sha256.Sum256([]byte("alpha"))
	require.Equal(t, hex.EncodeToString(sum[:]), m["/a.txt"].Hash)
	require.Equal(t, int64(5), m["/a.txt"].Size)

	// Identical content always produces the identical address.
	m2 := BuildManifest(map[string][]byte{"/other/path.txt": []byte("alpha")})
	require.Equal(t, m["/a.txt"].Hash, m2["/other/path.txt"].Hash)
}

func TestEncodeBase64MatchesStdlibAcrossChunkBoundary(t *testing.T) {
	sizes := []int{0, 1, 100, encodeChunkSize - 1, encodeChunkSize, encodeChunkSize + 1, 3*encodeChunkSize + 7}
	for _, n := range sizes {
		data := bytes.Repeat([]byte{0xAB}, n)
		require.Equal(t, base64.StdEncoding.EncodeToString(data), encodeBase64(data), "size %d", n)
	}
}
