package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidstore/internal/descriptor"
	"vidstore/internal/model"
)

type memMarkers struct {
	rows   map[string]bool
	n      int
	closed bool
}

func (m *memMarkers) WriteMarker(context.Context) (string, error) {
	m.n++
	token := fmt.Sprintf("marker%d", m.n)
	m.rows[token] = true
	return token, nil
}

func (m *memMarkers) HasMarker(_ context.Context, token string) (bool, error) {
	return m.rows[token], nil
}

func (m *memMarkers) Close() error {
	m.closed = true
	return nil
}

func TestVerify_MarkerSurvivesReprovision(t *testing.T) {
	p, _ := newProvisioner(t)
	d := descriptor.Default()
	_, err := p.Provision(context.Background(), d)
	require.NoError(t, err)

	db := &memMarkers{rows: map[string]bool{}}
	var opened string
	v := &Verifier{Store: p.Store, Open: func(_ context.Context, url string) (Markers, error) {
		opened = url
		return db, nil
	}}

	first, err := v.Verify(context.Background(), d.ContainerName)
	require.NoError(t, err)
	assert.Empty(t, first.Previous)
	assert.Equal(t, "marker1", first.Written)
	assert.True(t, db.closed)
	assert.Contains(t, opened, "/videodb_creative_v2?")

	d.ExtraEnv = map[string]string{"TZ": "UTC"}
	_, err = p.Provision(context.Background(), d)
	require.NoError(t, err)

	second, err := v.Verify(context.Background(), d.ContainerName)
	require.NoError(t, err)
	assert.Equal(t, "marker1", second.Previous)
	assert.True(t, second.PreviousFound)
	assert.Equal(t, "marker2", second.Written)
}

func TestVerify_DetectsLostData(t *testing.T) {
	p, _ := newProvisioner(t)
	d := descriptor.Default()
	_, err := p.Provision(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, p.Store.Patch(d.ContainerName, func(it *model.Instance) { it.LastMarker = "gone" }))

	v := &Verifier{Store: p.Store, Open: func(context.Context, string) (Markers, error) {
		return &memMarkers{rows: map[string]bool{}}, nil
	}}
	_, err = v.Verify(context.Background(), d.ContainerName)
	assert.ErrorContains(t, err, "persistence marker gone is missing")
}
