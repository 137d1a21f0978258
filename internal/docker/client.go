package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const (
	LabelManaged        = "io.vidstore.managed"
	LabelDescriptorHash = "io.vidstore.descriptor-hash"
	LabelService        = "io.vidstore.service"
)

var ErrContainerNotFound = errors.New("container not found")

// Client drives the Docker Engine API.
type Client struct {
	api client.APIClient
}

// NewClient connects using DOCKER_HOST and friends; host overrides it when set.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{api: api}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) EnsureAvailable(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker not available: %w", err)
	}
	return nil
}

// EnsureImage pulls ref unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string) (bool, error) {
	if _, err := c.api.ImageInspect(ctx, ref); err == nil {
		return false, nil
	} else if !cerrdefs.IsNotFound(err) {
		return false, fmt.Errorf("inspect image %s: %w", ref, err)
	}

	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return false, fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer func() { _ = rc.Close() }()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return false, fmt.Errorf("pull image %s: %w", ref, err)
	}
	return true, nil
}

// EnsureVolume creates the named volume if it does not exist. It reports
// whether an existing volume was found.
func (c *Client) EnsureVolume(ctx context.Context, name string, labels map[string]string) (bool, error) {
	if _, err := c.api.VolumeInspect(ctx, name); err == nil {
		return true, nil
	} else if !cerrdefs.IsNotFound(err) {
		return false, fmt.Errorf("inspect volume %s: %w", name, err)
	}

	if _, err := c.api.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels}); err != nil {
		return false, fmt.Errorf("create volume %s: %w", name, err)
	}
	return false, nil
}

func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	if err := c.api.VolumeRemove(ctx, name, false); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

type RunPostgresOptions struct {
	Image         string
	ContainerName string
	VolumeName    string
	VolumeTarget  string
	HostIP        string
	HostPort      int
	ContainerPort int
	Env           []string
	RestartPolicy string
	HealthTest    []string
	Interval      time.Duration
	Timeout       time.Duration
	StartPeriod   time.Duration
	Retries       int
	Labels        map[string]string
}

// RunPostgres creates and starts the database container.
func (c *Client) RunPostgres(ctx context.Context, opts RunPostgresOptions) (string, error) {
	cfg, hostCfg := containerSpec(opts)

	created, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.ContainerName)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", opts.ContainerName, err)
	}
	if created.ID == "" {
		return "", errors.New("docker create returned empty container id")
	}

	if err := c.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = c.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container %s: %w", opts.ContainerName, err)
	}
	return created.ID, nil
}

func containerSpec(opts RunPostgresOptions) (*container.Config, *container.HostConfig) {
	port := nat.Port(strconv.Itoa(opts.ContainerPort) + "/tcp")

	cfg := &container.Config{
		Image:        opts.Image,
		Env:          opts.Env,
		Labels:       opts.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Healthcheck: &container.HealthConfig{
			Test:        opts.HealthTest,
			Interval:    opts.Interval,
			Timeout:     opts.Timeout,
			StartPeriod: opts.StartPeriod,
			Retries:     opts.Retries,
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(opts.RestartPolicy)},
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: opts.HostIP, HostPort: strconv.Itoa(opts.HostPort)}},
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: opts.VolumeName,
			Target: opts.VolumeTarget,
		}},
	}
	return cfg, hostCfg
}

type ContainerInfo struct {
	ID           string
	Name         string
	Image        string
	Running      bool
	Status       string
	Health       string
	ExitCode     int
	RestartCount int
	Labels       map[string]string
	VolumeName   string
}

// InspectContainer accepts a name or id.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (ContainerInfo, error) {
	resp, err := c.api.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return ContainerInfo{}, fmt.Errorf("%w: %s", ErrContainerNotFound, nameOrID)
		}
		return ContainerInfo{}, fmt.Errorf("inspect container %s: %w", nameOrID, err)
	}

	info := ContainerInfo{
		ID:           resp.ID,
		Name:         strings.TrimPrefix(resp.Name, "/"),
		RestartCount: resp.RestartCount,
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		info.Running = resp.State.Running
		info.Status = resp.State.Status
		info.ExitCode = resp.State.ExitCode
		if resp.State.Health != nil {
			info.Health = resp.State.Health.Status
		}
	}
	if resp.HostConfig != nil {
		for _, m := range resp.HostConfig.Mounts {
			if m.Type == mount.TypeVolume {
				info.VolumeName = m.Source
				break
			}
		}
	}
	return info, nil
}

func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := c.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

func (c *Client) RestartContainer(ctx context.Context, id string) error {
	if err := c.api.ContainerRestart(ctx, id, container.StopOptions{}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return fmt.Errorf("restart container %s: %w", id, err)
	}
	return nil
}

func (c *Client) RemoveContainerForce(ctx context.Context, id string) error {
	if err := c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs cmd inside the container and buffers its output.
func (c *Client) Exec(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.ExecStream(ctx, id, cmd, &stdout, &stderr)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{
		ExitCode: code,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
	}, nil
}

// ExecStream runs cmd inside the container, copying its output as it arrives.
func (c *Client) ExecStream(ctx context.Context, id string, cmd []string, stdout, stderr io.Writer) (int, error) {
	created, err := c.api.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return 0, fmt.Errorf("exec create in %s: %w", id, err)
	}

	attach, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, fmt.Errorf("exec attach in %s: %w", id, err)
	}
	defer attach.Close()

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copied <- err
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-copied:
		if err != nil {
			return 0, fmt.Errorf("read exec output: %w", err)
		}
	}

	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, fmt.Errorf("exec inspect in %s: %w", id, err)
	}
	return inspect.ExitCode, nil
}

// IsPortAllocationError matches the daemon's messages for an occupied host port.
func IsPortAllocationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "port is already allocated") || strings.Contains(msg, "address already in use")
}
