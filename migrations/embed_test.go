package migrations

import (
	"io"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	src, err := iofs.New(FS, ".")
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, _, err := src.ReadUp(version)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	_ = up.Close()
	assert.Contains(t, string(body), "EXCLUDE USING gist")

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	_ = down.Close()
}

func TestEveryUpHasDown(t *testing.T) {
	ups, err := fs.Glob(FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(FS, "*.down.sql")
	require.NoError(t, err)
	assert.Len(t, downs, len(ups))
}
