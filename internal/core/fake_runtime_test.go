package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vidstore/internal/docker"
)

type fakeContainer struct {
	info docker.ContainerInfo
	opts docker.RunPostgresOptions
}

type fakeRuntime struct {
	mu         sync.Mutex
	images     map[string]bool
	volumes    map[string]bool
	containers map[string]*fakeContainer
	nextID     int
	calls      []string

	runErr     error
	startErr   error
	restartErr error
	execResult docker.ExecResult
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		images:     map[string]bool{},
		volumes:    map[string]bool{},
		containers: map[string]*fakeContainer{},
	}
}

func (f *fakeRuntime) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) find(nameOrID string) *fakeContainer {
	for name, c := range f.containers {
		if name == nameOrID || c.info.ID == nameOrID {
			return c
		}
	}
	return nil
}

func (f *fakeRuntime) EnsureAvailable(context.Context) error { return nil }

func (f *fakeRuntime) EnsureImage(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images[ref] {
		return false, nil
	}
	f.images[ref] = true
	f.record("pull " + ref)
	return true, nil
}

func (f *fakeRuntime) EnsureVolume(_ context.Context, name string, _ map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumes[name] {
		return true, nil
	}
	f.volumes[name] = true
	f.record("volume create " + name)
	return false, nil
}

func (f *fakeRuntime) RemoveVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	f.record("volume rm " + name)
	return nil
}

func (f *fakeRuntime) RunPostgres(_ context.Context, opts docker.RunPostgresOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return "", f.runErr
	}
	f.nextID++
	id := fmt.Sprintf("container%04d", f.nextID)
	f.containers[opts.ContainerName] = &fakeContainer{
		info: docker.ContainerInfo{
			ID:         id,
			Name:       opts.ContainerName,
			Image:      opts.Image,
			Running:    true,
			Status:     "running",
			Health:     "starting",
			Labels:     opts.Labels,
			VolumeName: opts.VolumeName,
		},
		opts: opts,
	}
	f.record("run " + opts.ContainerName)
	return id, nil
}

func (f *fakeRuntime) InspectContainer(_ context.Context, nameOrID string) (docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(nameOrID)
	if c == nil {
		return docker.ContainerInfo{}, fmt.Errorf("%w: %s", docker.ErrContainerNotFound, nameOrID)
	}
	return c.info, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c := f.find(id)
	if c == nil {
		return fmt.Errorf("%w: %s", docker.ErrContainerNotFound, id)
	}
	c.info.Running = true
	f.record("start " + c.info.Name)
	return nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(id); c != nil {
		c.info.Running = false
		f.record("stop " + c.info.Name)
	}
	return nil
}

func (f *fakeRuntime) RestartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return f.restartErr
	}
	c := f.find(id)
	if c == nil {
		return fmt.Errorf("%w: %s", docker.ErrContainerNotFound, id)
	}
	c.info.Running = true
	c.info.RestartCount++
	f.record("restart " + c.info.Name)
	return nil
}

func (f *fakeRuntime) RemoveContainerForce(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, c := range f.containers {
		if name == id || c.info.ID == id {
			delete(f.containers, name)
			f.record("rm " + name)
		}
	}
	return nil
}

func (f *fakeRuntime) Exec(context.Context, string, []string) (docker.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execResult, nil
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) setRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.containers[name]; c != nil {
		c.info.Running = running
	}
}
