// Package supervisor keeps a provisioned instance alive: it runs the health
// monitor and restarts the container according to its restart policy.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vidstore/internal/docker"
	"vidstore/internal/health"
	"vidstore/internal/model"
	"vidstore/internal/registry"
	"vidstore/internal/util"
)

type Restarter interface {
	RestartContainer(ctx context.Context, id string) error
}

type RestartRecorder interface {
	RecordRestart(instance string, err error)
}

type Supervisor struct {
	Name    string
	Store   *registry.Store
	Runtime Restarter
	Monitor *health.Monitor
	Logger  *slog.Logger
	Metrics RestartRecorder

	// NewBackOff builds the retry schedule for one restart. The default
	// backs off exponentially up to a minute and never gives up.
	NewBackOff func() backoff.BackOff
}

// Run supervises until ctx is done (nil), the operator stops the instance
// (model.ErrStopped), or the restart policy declines a restart (the
// *model.InstanceUnreadyError that triggered it).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		it, err := s.Store.Get(s.Name)
		if err != nil {
			return err
		}
		if it.Stopped {
			return model.ErrStopped
		}

		unready := s.Monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}

		it, err = s.Store.Get(s.Name)
		if err != nil {
			return err
		}
		policy := model.RestartPolicy(it.RestartPolicy)
		if it.Stopped {
			s.logger().Info("instance stopped by operator, not restarting", "name", s.Name)
			return model.ErrStopped
		}
		if !policy.ShouldRestart(false) {
			s.logger().Warn("instance failed, restart policy declines restart", "name", s.Name, "policy", policy, "error", unready)
			return unready
		}

		s.logger().Warn("instance failed, restarting", "name", s.Name, "policy", policy, "error", unready)
		if err := s.restart(ctx, it.ContainerID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.Store.Patch(s.Name, func(rec *model.Instance) {
			rec.RestartCount++
			rec.Health = health.Starting.String()
			rec.LastError = errString(unready)
			rec.UpdatedAt = util.NowRFC3339()
		}); err != nil {
			return err
		}
		s.Monitor.Reset()
	}
}

func (s *Supervisor) restart(ctx context.Context, containerID string) error {
	op := func() error {
		err := s.Runtime.RestartContainer(ctx, containerID)
		if errors.Is(err, docker.ErrContainerNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.logger().Warn("restart failed, retrying", "name", s.Name, "retry_in", next, "error", err)
		if s.Metrics != nil {
			s.Metrics.RecordRestart(s.Name, err)
		}
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return fmt.Errorf("restart %s: %w", s.Name, err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordRestart(s.Name, nil)
	}
	s.logger().Info("instance restarted", "name", s.Name, "container_id", containerID)
	return nil
}

// HealthHooks persists state transitions to the registry so other processes
// (status, the HTTP server) see them. A reset to Starting keeps LastError so
// the reason for the last restart stays visible until the next probe result.
func (s *Supervisor) HealthHooks() health.Hooks {
	return health.Hooks{
		OnTransition: func(_, to health.State, err error) {
			perr := s.Store.Patch(s.Name, func(rec *model.Instance) {
				rec.Health = to.String()
				if to != health.Starting || err != nil {
					rec.LastError = errString(err)
				}
				rec.UpdatedAt = util.NowRFC3339()
			})
			if perr != nil {
				s.logger().Error("record health state", "name", s.Name, "error", perr)
			}
		},
	}
}

func (s *Supervisor) newBackOff() backoff.BackOff {
	if s.NewBackOff != nil {
		return s.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
