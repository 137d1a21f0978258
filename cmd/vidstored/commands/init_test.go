package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidstore/internal/descriptor"
)

func TestInit_WritesDefaultDescriptor(t *testing.T) {
	dir := isolate(t)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote docker-compose.yml")

	d, err := descriptor.Load(filepath.Join(dir, "docker-compose.yml"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, descriptor.Default(), d)
}

func TestInit_RefusesOverwrite(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "compose.yml")
	require.NoError(t, os.WriteFile(path, []byte("services: {}\n"), 0o600))

	_, err := execute(t, "init", "-f", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init", "-f", path, "--force")
	require.NoError(t, err)

	d, err := descriptor.Load(path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "video_retrieval_postgres", d.ContainerName)
}

func TestInit_GeneratePassword(t *testing.T) {
	dir := isolate(t)

	_, err := execute(t, "init", "--generate-password")
	require.NoError(t, err)

	d, err := descriptor.Load(filepath.Join(dir, "docker-compose.yml"), "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, descriptor.DefaultPassword, d.Password)
	assert.GreaterOrEqual(t, len(d.Password), 24)
}
