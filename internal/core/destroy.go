package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vidstore/internal/model"
	"vidstore/internal/registry"
	"vidstore/internal/util"
)

const DefaultStopTimeout = 30 * time.Second

type Destroyer struct {
	Store   *registry.Store
	Runtime Runtime
	Logger  *slog.Logger
}

// Stop records an operator stop, which suppresses unless-stopped restarts,
// and stops the container. The data volume is untouched.
func (d *Destroyer) Stop(ctx context.Context, name string, timeout time.Duration) error {
	return d.Store.Update(func(r *model.Registry) error {
		item, idx := registry.FindByName(*r, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s", model.ErrNotProvisioned, name)
		}

		r.Items[idx].Stopped = true
		r.Items[idx].Health = ""
		r.Items[idx].UpdatedAt = util.NowRFC3339()

		if err := d.Runtime.StopContainer(ctx, item.ContainerID, timeout); err != nil {
			return err
		}
		d.logger().Info("instance stopped", "name", name, "volume", item.VolumeName)
		return nil
	})
}

// Teardown removes the container and the registry record. The volume is
// removed only when removeVolume is set.
func (d *Destroyer) Teardown(ctx context.Context, name string, removeVolume bool) error {
	return d.Store.Update(func(r *model.Registry) error {
		item, idx := registry.FindByName(*r, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s", model.ErrNotProvisioned, name)
		}

		if err := d.Runtime.RemoveContainerForce(ctx, item.ContainerID); err != nil {
			return err
		}

		if removeVolume {
			if err := d.Runtime.RemoveVolume(ctx, item.VolumeName); err != nil {
				return err
			}
		}

		registry.Remove(r, name)
		d.logger().Info("instance removed", "name", name, "volume", item.VolumeName, "volume_removed", removeVolume)
		return nil
	})
}

func (d *Destroyer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
