package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"vidstore/internal/model"
)

const (
	fileName     = "registry.json"
	lockFileName = "registry.lock"
)

// Store is the on-disk record of provisioned instances. Every read-modify-write
// goes through Update so concurrent CLI invocations and the daemon serialise on
// the same lock file.
type Store struct {
	Path     string
	LockPath string
}

func NewStore(dataDir string) (*Store, error) {
	if err := EnsureDataDir(dataDir); err != nil {
		return nil, err
	}
	return &Store{
		Path:     filepath.Join(dataDir, fileName),
		LockPath: filepath.Join(dataDir, lockFileName),
	}, nil
}

func EnsureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// Update runs fn with the registry loaded under the lock and saves the result
// when fn returns nil.
func (s *Store) Update(fn func(r *model.Registry) error) error {
	unlock, err := AcquireLock(s.LockPath)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	r, err := Load(s.Path)
	if err != nil {
		return err
	}
	if err := fn(&r); err != nil {
		return err
	}
	return Save(s.Path, r)
}

// View runs fn with the registry loaded under the lock.
func (s *Store) View(fn func(r model.Registry) error) error {
	unlock, err := AcquireLock(s.LockPath)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	r, err := Load(s.Path)
	if err != nil {
		return err
	}
	return fn(r)
}

func (s *Store) Get(name string) (model.Instance, error) {
	var out model.Instance
	err := s.View(func(r model.Registry) error {
		item, idx := FindByName(r, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s", model.ErrNotProvisioned, name)
		}
		out = item
		return nil
	})
	return out, err
}

// Patch applies fn to the named record.
func (s *Store) Patch(name string, fn func(it *model.Instance)) error {
	return s.Update(func(r *model.Registry) error {
		_, idx := FindByName(*r, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s", model.ErrNotProvisioned, name)
		}
		fn(&r.Items[idx])
		return nil
	})
}

func Load(registryPath string) (model.Registry, error) {
	b, err := os.ReadFile(registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Registry{Items: []model.Instance{}}, nil
		}
		return model.Registry{}, fmt.Errorf("read registry: %w", err)
	}

	if len(b) == 0 {
		return model.Registry{Items: []model.Instance{}}, nil
	}

	var r model.Registry
	if err := json.Unmarshal(b, &r); err != nil {
		return model.Registry{}, fmt.Errorf("parse registry json: %w", err)
	}
	if r.Items == nil {
		r.Items = []model.Instance{}
	}

	return r, nil
}

func Save(registryPath string, r model.Registry) error {
	if err := os.MkdirAll(filepath.Dir(registryPath), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	b = append(b, '\n')

	tmpPath := registryPath + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o600); err != nil {
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := os.Rename(tmpPath, registryPath); err != nil {
		return fmt.Errorf("replace registry atomically: %w", err)
	}
	return nil
}

func FindByName(r model.Registry, name string) (model.Instance, int) {
	for i, item := range r.Items {
		if item.Name == name {
			return item, i
		}
	}
	return model.Instance{}, -1
}

// Upsert replaces the record with the same name or appends it.
func Upsert(r *model.Registry, it model.Instance) {
	if _, idx := FindByName(*r, it.Name); idx >= 0 {
		r.Items[idx] = it
		return
	}
	r.Items = append(r.Items, it)
}

func Remove(r *model.Registry, name string) bool {
	_, idx := FindByName(*r, name)
	if idx < 0 {
		return false
	}
	r.Items = append(r.Items[:idx], r.Items[idx+1:]...)
	return true
}
