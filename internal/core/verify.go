package core

import (
	"context"
	"fmt"

	"vidstore/internal/model"
	"vidstore/internal/registry"
)

// Markers reads and writes persistence markers in the instance's database.
type Markers interface {
	WriteMarker(ctx context.Context) (string, error)
	HasMarker(ctx context.Context, token string) (bool, error)
	Close() error
}

type VerifyResult struct {
	Name          string `json:"name"`
	Previous      string `json:"previous_marker,omitempty"`
	PreviousFound bool   `json:"previous_found"`
	Written       string `json:"written_marker"`
}

// Verifier proves that the data volume survived restarts and re-provisions:
// the marker written by the last run must still be readable.
type Verifier struct {
	Store *registry.Store
	Open  func(ctx context.Context, databaseURL string) (Markers, error)
}

func (v *Verifier) Verify(ctx context.Context, name string) (VerifyResult, error) {
	item, err := v.Store.Get(name)
	if err != nil {
		return VerifyResult{}, err
	}

	markers, err := v.Open(ctx, DatabaseURL(item))
	if err != nil {
		return VerifyResult{}, err
	}
	defer func() { _ = markers.Close() }()

	res := VerifyResult{Name: name, Previous: item.LastMarker}
	if item.LastMarker != "" {
		found, err := markers.HasMarker(ctx, item.LastMarker)
		if err != nil {
			return VerifyResult{}, err
		}
		if !found {
			return res, fmt.Errorf("persistence marker %s is missing from %s: data was not preserved", item.LastMarker, item.VolumeName)
		}
		res.PreviousFound = true
	}

	token, err := markers.WriteMarker(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	res.Written = token

	if err := v.Store.Patch(name, func(it *model.Instance) { it.LastMarker = token }); err != nil {
		return VerifyResult{}, err
	}
	return res, nil
}
