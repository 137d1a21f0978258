package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"vidstore/internal/docker"
)

// Probe is one readiness attempt. A nil error means the instance accepts
// connections.
type Probe interface {
	Probe(ctx context.Context) error
}

type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

type Execer interface {
	Exec(ctx context.Context, id string, cmd []string) (docker.ExecResult, error)
}

// ExecProbe runs the healthcheck test inside the container, the way the
// runtime's own healthcheck would.
type ExecProbe struct {
	Exec      Execer
	Container string
	Test      []string
}

func (p *ExecProbe) Probe(ctx context.Context) error {
	cmd, err := execCommand(p.Test)
	if err != nil {
		return err
	}

	res, err := p.Exec.Exec(ctx, p.Container, cmd)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			return err
		}
		return fmt.Errorf("exec probe: %w", err)
	}
	if res.ExitCode != 0 {
		out := res.Stderr
		if out == "" {
			out = res.Stdout
		}
		return fmt.Errorf("probe exited with code %d: %s", res.ExitCode, out)
	}
	return nil
}

// execCommand turns a compose healthcheck test into an argv.
func execCommand(test []string) ([]string, error) {
	if len(test) == 0 {
		return nil, errors.New("empty healthcheck test")
	}
	switch test[0] {
	case "CMD-SHELL":
		if len(test) < 2 {
			return nil, errors.New("CMD-SHELL healthcheck has no command")
		}
		return []string{"sh", "-c", test[1]}, nil
	case "CMD":
		if len(test) < 2 {
			return nil, errors.New("CMD healthcheck has no command")
		}
		return test[1:], nil
	}
	return test, nil
}

// SQLProbe connects from the host and runs SELECT 1.
type SQLProbe struct {
	DSN string
}

func (p *SQLProbe) Probe(ctx context.Context) error {
	db, err := sql.Open("postgres", p.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("select 1: %w", err)
	}
	return nil
}
