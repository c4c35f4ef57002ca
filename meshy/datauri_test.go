package meshy

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/meshypipe/types"
)

func TestGuessMIME(t *testing.T) {
	assert.Equal(t, "image/png", GuessMIME("hero.PNG"))
	assert.Equal(t, "image/jpeg", GuessMIME("/tmp/front.jpg"))
	assert.Equal(t, "application/octet-stream", GuessMIME("noext"))
	assert.Equal(t, "application/octet-stream", GuessMIME("weird.zzzunknown"))
	assert.False(t, strings.Contains(GuessMIME("notes.txt"), ";"))
}

func TestDataURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "front.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	uri, err := DataURI(path)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("png-bytes")), uri)

	_, err = DataURI(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Equal(t, types.ErrIO, types.GetErrorCode(err))
}
