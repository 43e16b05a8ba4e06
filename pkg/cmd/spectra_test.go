package cmd

import (
	"testing"

	"github.com/gxps"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	rows := []byte("280 10\n281 12\n282 30\n283 11\n")
	for _, fpath := range []string{"/run/C1s.xy", "/run/O1s.xy", "/run/readme.md", "/single.xy"} {
		require.NoError(t, afero.WriteFile(fs, fpath, rows, 0600))
	}
	conf := &gxps.Configuration{Settings: gxps.DefaultSettings()}

	c, err := loadFiles(conf, fs, []string{"/run", "/single.xy"})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = loadFiles(conf, fs, []string{"/run/readme.md"})
	assert.Error(t, err, "unknown formats are rejected")
}
