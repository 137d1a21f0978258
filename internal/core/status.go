package core

import (
	"context"
	"errors"

	"vidstore/internal/docker"
	"vidstore/internal/model"
	"vidstore/internal/registry"
)

type StatusService struct {
	Store *registry.Store
	// Runtime is optional; without it only the recorded state is reported.
	Runtime Runtime
}

func (s *StatusService) Status(ctx context.Context) (model.StatusResponse, error) {
	var r model.Registry
	if err := s.Store.View(func(loaded model.Registry) error {
		r = loaded
		return nil
	}); err != nil {
		return model.StatusResponse{}, err
	}

	items := make([]model.StatusItem, 0, len(r.Items))
	for _, it := range r.Items {
		item := model.StatusItem{
			Name:          it.Name,
			ContainerID:   it.ContainerID,
			VolumeName:    it.VolumeName,
			Image:         it.Image,
			Host:          it.Host,
			HostPort:      it.HostPort,
			DB:            it.DB,
			User:          it.User,
			CreatedAt:     it.CreatedAt,
			RestartPolicy: it.RestartPolicy,
			RestartCount:  it.RestartCount,
			Stopped:       it.Stopped,
			Health:        it.Health,
			LastError:     it.LastError,
			DatabaseURL:   DatabaseURL(it),
		}

		if s.Runtime != nil {
			info, err := s.Runtime.InspectContainer(ctx, it.ContainerID)
			switch {
			case err == nil:
				item.Running = info.Running
				item.RuntimeHealth = info.Health
			case errors.Is(err, docker.ErrContainerNotFound):
				item.RuntimeHealth = "missing"
			default:
				return model.StatusResponse{}, err
			}
		}
		items = append(items, item)
	}

	return model.StatusResponse{Items: items}, nil
}

// Get returns the status of one instance.
func (s *StatusService) Get(ctx context.Context, name string) (model.StatusItem, error) {
	resp, err := s.Status(ctx)
	if err != nil {
		return model.StatusItem{}, err
	}
	for _, it := range resp.Items {
		if it.Name == name {
			return it, nil
		}
	}
	return model.StatusItem{}, model.ErrNotProvisioned
}
