package commands

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"vidstore/internal/catalog"
	"vidstore/internal/config"
	"vidstore/internal/core"
	"vidstore/internal/descriptor"
	"vidstore/internal/docker"
	"vidstore/internal/health"
	"vidstore/internal/metrics"
	"vidstore/internal/model"
	"vidstore/internal/registry"
)

// options are the root's persistent flags; empty values defer to config.
type options struct {
	configPath     string
	descriptorPath string
	service        string
}

// app is what every command needs: settings, a logger and the registry.
// The docker client is created on first use.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *registry.Store
	metrics *metrics.Metrics
	out     io.Writer

	client *docker.Client
}

func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := config.Load(opts.configPath, nil)
	if err != nil {
		return nil, err
	}
	if opts.descriptorPath != "" {
		cfg.Descriptor = opts.descriptorPath
	}
	if opts.service != "" {
		cfg.Service = opts.service
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	store, err := registry.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
		out:     cmd.OutOrStdout(),
	}, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) close() {
	if a.client != nil {
		_ = a.client.Close()
	}
}

func (a *app) runtime(ctx context.Context) (*docker.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := docker.NewClient(a.cfg.DockerHost)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureAvailable(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *app) descriptor() (model.Descriptor, error) {
	return descriptor.Load(a.cfg.Descriptor, a.cfg.Service, nil)
}

// instance resolves the registry record for the configured descriptor.
func (a *app) instance() (model.Instance, model.Descriptor, error) {
	d, err := a.descriptor()
	if err != nil {
		return model.Instance{}, model.Descriptor{}, err
	}
	it, err := a.store.Get(d.ContainerName)
	if err != nil {
		return model.Instance{}, model.Descriptor{}, err
	}
	return it, d, nil
}

func (a *app) provisioner(rt core.Runtime) *core.Provisioner {
	return &core.Provisioner{
		Store:      a.store,
		Runtime:    rt,
		PublicHost: a.cfg.PublicHost,
		Logger:     a.logger,
		Metrics:    a.metrics,
	}
}

// probe builds the readiness probe for the named instance. The sql probe
// looks the instance up on every attempt so a re-provisioned container is
// picked up.
func (a *app) probe(rt health.Execer, name string, d model.Descriptor) health.Probe {
	if a.cfg.Probe == config.ProbeSQL {
		return health.ProbeFunc(func(ctx context.Context) error {
			it, err := a.store.Get(name)
			if err != nil {
				return err
			}
			return (&health.SQLProbe{DSN: core.DatabaseURL(it)}).Probe(ctx)
		})
	}
	return &health.ExecProbe{Exec: rt, Container: name, Test: d.HealthCheck.Test}
}

func (a *app) monitor(rt health.Execer, name string, d model.Descriptor, hooks health.Hooks) *health.Monitor {
	return health.NewMonitor(a.probe(rt, name, d), health.ConfigFrom(d.HealthCheck), nil, a.logger.With("name", name), hooks)
}

// reload points mon at the healthcheck of a re-provisioned descriptor.
func (a *app) reload(mon *health.Monitor, rt health.Execer, name string, d model.Descriptor, action model.ProvisionAction) {
	if action == model.ActionUnchanged {
		return
	}
	mon.Reconfigure(a.probe(rt, name, d), health.ConfigFrom(d.HealthCheck))
	a.logger.Info("health monitor reloaded", "name", name, "action", action, "interval", d.HealthCheck.Interval, "retries", d.HealthCheck.Retries)
}

func openMarkers(_ context.Context, databaseURL string) (core.Markers, error) {
	c, err := catalog.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
