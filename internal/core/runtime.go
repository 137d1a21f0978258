package core

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"vidstore/internal/docker"
	"vidstore/internal/model"
)

// Runtime is the subset of the container runtime the provisioner drives.
// *docker.Client implements it.
type Runtime interface {
	EnsureAvailable(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) (bool, error)
	EnsureVolume(ctx context.Context, name string, labels map[string]string) (bool, error)
	RemoveVolume(ctx context.Context, name string) error
	RunPostgres(ctx context.Context, opts docker.RunPostgresOptions) (string, error)
	InspectContainer(ctx context.Context, nameOrID string) (docker.ContainerInfo, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RestartContainer(ctx context.Context, id string) error
	RemoveContainerForce(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, cmd []string) (docker.ExecResult, error)
}

var _ Runtime = (*docker.Client)(nil)

func deriveHost(publicHost string, hostIP string) string {
	if strings.TrimSpace(publicHost) != "" {
		return publicHost
	}

	hostOnly := strings.Trim(hostIP, "[]")
	if hostOnly == "" || hostOnly == "0.0.0.0" || hostOnly == "::" {
		return "127.0.0.1"
	}
	return hostOnly
}

// DatabaseURL is the libpq connection string for a registry record.
func DatabaseURL(item model.Instance) string {
	user := url.QueryEscape(item.User)
	pass := url.QueryEscape(item.Password)
	db := url.PathEscape(item.DB)
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, pass, item.Host, item.HostPort, db)
}

// checkPortFree binds the host port briefly to prove nothing else holds it.
func checkPortFree(hostIP string, port int) error {
	bindIP := hostIP
	if bindIP == "" {
		bindIP = "0.0.0.0"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(bindIP, fmt.Sprintf("%d", port)))
	if err != nil {
		return &model.PortConflictError{HostIP: hostIP, Port: port, Err: err}
	}
	return ln.Close()
}
