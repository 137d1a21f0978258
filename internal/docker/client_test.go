package docker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPortAllocationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unrelated", errors.New("no such image"), false},
		{"allocated", errors.New("Bind for 0.0.0.0:5432 failed: port is already allocated"), true},
		{"wrapped in use", fmt.Errorf("start: %w", errors.New("listen tcp4 0.0.0.0:5432: bind: address already in use")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPortAllocationError(tt.err))
		})
	}
}

func TestContainerSpec(t *testing.T) {
	cfg, hostCfg := containerSpec(RunPostgresOptions{
		Image:         "pgvector/pgvector:pg15",
		ContainerName: "video_retrieval_postgres",
		VolumeName:    "postgres_data",
		VolumeTarget:  "/var/lib/postgresql/data",
		HostPort:      5432,
		ContainerPort: 5432,
		Env:           []string{"POSTGRES_DB=videodb_creative_v2"},
		RestartPolicy: "unless-stopped",
		HealthTest:    []string{"CMD-SHELL", "pg_isready -U postgres -d videodb_creative_v2"},
		Interval:      30 * time.Second,
		Timeout:       10 * time.Second,
		Retries:       3,
		Labels:        map[string]string{LabelManaged: "true"},
	})

	require.NotNil(t, cfg.Healthcheck)
	assert.Equal(t, "pgvector/pgvector:pg15", cfg.Image)
	assert.Contains(t, cfg.ExposedPorts, nat.Port("5432/tcp"))
	assert.Equal(t, 30*time.Second, cfg.Healthcheck.Interval)
	assert.Equal(t, 10*time.Second, cfg.Healthcheck.Timeout)
	assert.Equal(t, 3, cfg.Healthcheck.Retries)
	assert.Equal(t, "true", cfg.Labels[LabelManaged])

	assert.Equal(t, container.RestartPolicyUnlessStopped, hostCfg.RestartPolicy.Name)
	require.Len(t, hostCfg.PortBindings[nat.Port("5432/tcp")], 1)
	assert.Equal(t, "5432", hostCfg.PortBindings[nat.Port("5432/tcp")][0].HostPort)
	require.Len(t, hostCfg.Mounts, 1)
	assert.Equal(t, mount.TypeVolume, hostCfg.Mounts[0].Type)
	assert.Equal(t, "postgres_data", hostCfg.Mounts[0].Source)
	assert.Equal(t, "/var/lib/postgresql/data", hostCfg.Mounts[0].Target)
}
