package catalog_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"vidstore/internal/catalog"
	"vidstore/internal/health"
	"vidstore/internal/schema"
)

// Run with: INTEGRATION_TEST=1 go test ./internal/catalog/ -run Integration
func TestIntegration_MarkerSurvivesRestart(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("set INTEGRATION_TEST=1 to run against a pgvector container")
	}
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"pgvector/pgvector:pg15",
		tcpostgres.WithDatabase("videodb_creative_v2"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	version, err := schema.Bootstrap(ctx, url, "videodb_creative_v2")
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)

	c, err := catalog.Open(url)
	require.NoError(t, err)
	token, err := c.WriteMarker(ctx)
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.VectorVersion)
	assert.Zero(t, stats.Videos)
	require.NoError(t, c.Close())

	timeout := 10 * time.Second
	require.NoError(t, pg.Stop(ctx, &timeout))
	require.NoError(t, pg.Start(ctx))

	// The mapped host port may change across a restart.
	url, err = pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	mon := health.NewMonitor(&health.SQLProbe{DSN: url}, health.Config{
		Interval: 500 * time.Millisecond,
		Timeout:  5 * time.Second,
		Retries:  60,
	}, nil, nil, health.Hooks{})
	waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	go func() { _ = mon.Run(waitCtx) }()
	require.NoError(t, mon.WaitReady(waitCtx))

	c, err = catalog.Open(url)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	found, err := c.HasMarker(ctx, token)
	require.NoError(t, err)
	assert.True(t, found, "marker written before the restart must survive it")

	version, err = schema.Up(url)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}
