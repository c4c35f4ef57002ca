package meshy

import (
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/meshypipe/types"
)

// GuessMIME guesses a content type from the file extension, falling back to
// application/octet-stream. Parameters such as charset are dropped.
func GuessMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "application/octet-stream"
	}
	guessed := mime.TypeByExtension(ext)
	if guessed == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(guessed, ';'); i >= 0 {
		guessed = strings.TrimSpace(guessed[:i])
	}
	return guessed
}

// DataURI reads path and returns it as a base64 data URI.
func DataURI(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", types.Errorf(types.ErrIO, "read image %s", path).WithCause(err)
	}
	return "data:" + GuessMIME(path) + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}
