package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidstore/internal/model"
)

func TestLoad_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	r, err := Load(filepath.Join(dir, "none.json"))
	require.NoError(t, err)
	assert.Empty(t, r.Items)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	r, err = Load(empty)
	require.NoError(t, err)
	assert.NotNil(t, r.Items)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse registry json")
}

func TestSave_RoundTripAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	in := model.Registry{Items: []model.Instance{{Name: "video_retrieval_postgres", VolumeName: "postgres_data", RestartCount: 2}}}

	require.NoError(t, Save(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_UpdatePatchGet(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("video_retrieval_postgres")
	assert.ErrorIs(t, err, model.ErrNotProvisioned)

	require.NoError(t, s.Update(func(r *model.Registry) error {
		Upsert(r, model.Instance{Name: "video_retrieval_postgres", ContainerID: "abc"})
		return nil
	}))
	require.NoError(t, s.Patch("video_retrieval_postgres", func(it *model.Instance) {
		it.RestartCount++
		it.Stopped = true
	}))

	it, err := s.Get("video_retrieval_postgres")
	require.NoError(t, err)
	assert.Equal(t, "abc", it.ContainerID)
	assert.Equal(t, 1, it.RestartCount)
	assert.True(t, it.Stopped)

	assert.ErrorIs(t, s.Patch("other", func(*model.Instance) {}), model.ErrNotProvisioned)
}

func TestStore_UpdateErrorDoesNotSave(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	err = s.Update(func(r *model.Registry) error {
		Upsert(r, model.Instance{Name: "x"})
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.Get("x")
	assert.ErrorIs(t, err, model.ErrNotProvisioned)
}

func TestStore_ConcurrentUpdatesSerialise(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Update(func(r *model.Registry) error {
		Upsert(r, model.Instance{Name: "x"})
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Patch("x", func(it *model.Instance) { it.RestartCount++ }))
		}()
	}
	wg.Wait()

	it, err := s.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 20, it.RestartCount)
}

func TestUpsertAndRemove(t *testing.T) {
	r := model.Registry{}
	Upsert(&r, model.Instance{Name: "a", HostPort: 1})
	Upsert(&r, model.Instance{Name: "b"})
	Upsert(&r, model.Instance{Name: "a", HostPort: 2})

	require.Len(t, r.Items, 2)
	it, idx := FindByName(r, "a")
	assert.Equal(t, 0, idx)
	assert.Equal(t, 2, it.HostPort)

	assert.True(t, Remove(&r, "a"))
	assert.False(t, Remove(&r, "a"))
	assert.Len(t, r.Items, 1)
}
