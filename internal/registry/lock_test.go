package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_TimesOutWhileHeld(t *testing.T) {
	orig := LockTimeout
	LockTimeout = 100 * time.Millisecond
	defer func() { LockTimeout = orig }()

	path := filepath.Join(t.TempDir(), "nested", "registry.lock")
	unlock, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = AcquireLock(path)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, unlock())

	unlock, err = AcquireLock(path)
	require.NoError(t, err)
	assert.NoError(t, unlock())
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.lock")
	unlock, err := AcquireLock(path)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = unlock()
	}()

	start := time.Now()
	second, err := AcquireLock(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.NoError(t, second())
}
