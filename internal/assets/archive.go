package assets

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	appErr "github.com/skiffhost/engine/pkg/errors"
)

// Extract decompresses an asset archive into a map of normalized path to
// raw bytes. Directory entries are skipped; paths are cleaned to
// slash-separated, relative form.
func Extract(archive []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "asset archive is not a valid zip")
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := normalizePath(f.Name)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "open archive entry "+f.Name+" failed")
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "read archive entry "+f.Name+" failed")
		}
		files[name] = data
	}
	return files, nil
}

func normalizePath(name string) (string, error) {
	p := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", appErr.New(appErr.CodeInvalid, "asset archive entry "+name+" escapes the archive root")
	}
	return "/" + p, nil
}
