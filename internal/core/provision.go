package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vidstore/internal/descriptor"
	"vidstore/internal/docker"
	"vidstore/internal/health"
	"vidstore/internal/model"
	"vidstore/internal/registry"
	"vidstore/internal/util"
)

type ProvisionRecorder interface {
	RecordProvision(instance, action string)
}

type Provisioner struct {
	Store      *registry.Store
	Runtime    Runtime
	PublicHost string
	Logger     *slog.Logger
	Metrics    ProvisionRecorder

	// PortCheck defaults to binding the port on the host.
	PortCheck func(hostIP string, port int) error
}

// Provision brings up exactly one container matching d. Repeated calls with
// the same descriptor leave a running instance untouched, and every path
// reuses the named data volume when it already exists.
func (p *Provisioner) Provision(ctx context.Context, d model.Descriptor) (model.ProvisionResult, error) {
	if err := descriptor.Validate(d); err != nil {
		return model.ProvisionResult{}, err
	}

	var res model.ProvisionResult
	err := p.Store.Update(func(r *model.Registry) error {
		var err error
		res, err = p.provisionLocked(ctx, r, d)
		return err
	})
	if err != nil {
		p.logger().Error("provision failed", "name", d.ContainerName, "error", err)
		return model.ProvisionResult{}, err
	}

	if p.Metrics != nil {
		p.Metrics.RecordProvision(res.Name, string(res.Action))
	}
	p.logger().Info("provisioned",
		"name", res.Name,
		"action", res.Action,
		"container_id", shortID(res.ContainerID),
		"volume", res.VolumeName,
		"volume_reused", res.VolumeReused,
		"image_pulled", res.ImagePulled,
	)
	return res, nil
}

func (p *Provisioner) provisionLocked(ctx context.Context, r *model.Registry, d model.Descriptor) (model.ProvisionResult, error) {
	if err := p.Runtime.EnsureAvailable(ctx); err != nil {
		return model.ProvisionResult{}, err
	}

	hash := d.Hash()
	res := model.ProvisionResult{
		Name:       d.ContainerName,
		VolumeName: d.Volume.Name,
		Host:       deriveHost(p.PublicHost, d.Port.HostIP),
		Port:       d.Port.HostPort,
		DB:         d.Database,
		User:       d.User,
	}

	info, err := p.Runtime.InspectContainer(ctx, d.ContainerName)
	exists := err == nil
	if err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
		return model.ProvisionResult{}, err
	}
	if exists && info.Labels[docker.LabelManaged] != "true" {
		return model.ProvisionResult{}, &model.ConfigurationError{
			Fields: []string{"container_name"},
			Reason: fmt.Sprintf("container %s exists and is not managed by vidstore", d.ContainerName),
		}
	}

	switch {
	case exists && info.Labels[docker.LabelDescriptorHash] == hash && info.Running:
		res.Action = model.ActionUnchanged
		res.ContainerID = info.ID
		res.VolumeReused = true

	case exists && info.Labels[docker.LabelDescriptorHash] == hash:
		if err := p.portCheck(d.Port); err != nil {
			return model.ProvisionResult{}, err
		}
		if err := p.Runtime.StartContainer(ctx, info.ID); err != nil {
			return model.ProvisionResult{}, mapPortError(d.Port, err)
		}
		res.Action = model.ActionStarted
		res.ContainerID = info.ID
		res.VolumeReused = true

	default:
		res.Action = model.ActionCreated
		if exists {
			p.logger().Info("descriptor changed, recreating container",
				"name", d.ContainerName,
				"old_hash", info.Labels[docker.LabelDescriptorHash],
				"new_hash", hash,
			)
			if err := p.replaceable(ctx, info, d.Port); err != nil {
				return model.ProvisionResult{}, err
			}
			if err := p.Runtime.RemoveContainerForce(ctx, info.ID); err != nil {
				return model.ProvisionResult{}, err
			}
			res.Action = model.ActionRecreated
		}
		if err := p.create(ctx, d, hash, &res); err != nil {
			return model.ProvisionResult{}, err
		}
	}

	now := util.NowRFC3339()
	prev, idx := registry.FindByName(*r, d.ContainerName)
	entry := model.Instance{
		Name:           d.ContainerName,
		Service:        d.Service,
		ContainerID:    res.ContainerID,
		VolumeName:     d.Volume.Name,
		Image:          d.Image,
		Host:           res.Host,
		HostPort:       d.Port.HostPort,
		DB:             d.Database,
		User:           d.User,
		Password:       d.Password,
		DescriptorHash: hash,
		RestartPolicy:  string(d.Restart),
		CreatedAt:      now,
		UpdatedAt:      now,
		Health:         health.Starting.String(),
	}
	if idx >= 0 {
		entry.CreatedAt = prev.CreatedAt
		entry.RestartCount = prev.RestartCount
		entry.LastMarker = prev.LastMarker
		if res.Action == model.ActionUnchanged {
			entry.Health = prev.Health
		}
	}
	registry.Upsert(r, entry)

	res.CreatedAt = entry.CreatedAt
	res.DatabaseURL = DatabaseURL(entry)
	return res, nil
}

// replaceable stops the old container so its port is released, then checks
// the new port. On a conflict the old container is started again and left in
// place.
func (p *Provisioner) replaceable(ctx context.Context, old docker.ContainerInfo, port model.PortMapping) error {
	if old.Running {
		if err := p.Runtime.StopContainer(ctx, old.ID, DefaultStopTimeout); err != nil {
			return err
		}
	}
	err := p.portCheck(port)
	if err == nil {
		return nil
	}
	if old.Running {
		if serr := p.Runtime.StartContainer(ctx, old.ID); serr != nil {
			p.logger().Error("restart of previous container failed", "name", old.Name, "error", serr)
		}
	}
	return err
}

func (p *Provisioner) create(ctx context.Context, d model.Descriptor, hash string, res *model.ProvisionResult) error {
	if err := p.portCheck(d.Port); err != nil {
		return err
	}

	pulled, err := p.Runtime.EnsureImage(ctx, d.Image)
	if err != nil {
		return err
	}
	res.ImagePulled = pulled

	labels := map[string]string{
		docker.LabelManaged: "true",
		docker.LabelService: d.Service,
	}
	reused, err := p.Runtime.EnsureVolume(ctx, d.Volume.Name, labels)
	if err != nil {
		return err
	}
	res.VolumeReused = reused

	containerLabels := map[string]string{docker.LabelDescriptorHash: hash}
	for k, v := range labels {
		containerLabels[k] = v
	}

	id, err := p.Runtime.RunPostgres(ctx, docker.RunPostgresOptions{
		Image:         d.Image,
		ContainerName: d.ContainerName,
		VolumeName:    d.Volume.Name,
		VolumeTarget:  d.Volume.Target,
		HostIP:        d.Port.HostIP,
		HostPort:      d.Port.HostPort,
		ContainerPort: d.Port.ContainerPort,
		Env:           d.Env(),
		RestartPolicy: string(d.Restart),
		HealthTest:    d.HealthCheck.Test,
		Interval:      d.HealthCheck.Interval,
		Timeout:       d.HealthCheck.Timeout,
		StartPeriod:   d.HealthCheck.StartPeriod,
		Retries:       d.HealthCheck.Retries,
		Labels:        containerLabels,
	})
	if err != nil {
		if !reused {
			_ = p.Runtime.RemoveVolume(ctx, d.Volume.Name)
		}
		return mapPortError(d.Port, err)
	}
	res.ContainerID = id
	return nil
}

func (p *Provisioner) portCheck(pm model.PortMapping) error {
	if p.PortCheck != nil {
		return p.PortCheck(pm.HostIP, pm.HostPort)
	}
	return checkPortFree(pm.HostIP, pm.HostPort)
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func mapPortError(pm model.PortMapping, err error) error {
	if docker.IsPortAllocationError(err) {
		return &model.PortConflictError{HostIP: pm.HostIP, Port: pm.HostPort, Err: err}
	}
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
