package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Instance is one entry of the instance registry, as written by tuxbot-setup.
type Instance struct {
	DataPath  string `json:"DATA_PATH"`
	IsRunning bool   `json:"IS_RUNNING"`
}

// Registry maps instance names to their data directories. It is backed by a
// single JSON file; a missing file is an empty registry.
type Registry struct {
	mu        sync.Mutex
	path      string
	instances map[string]Instance
}

// DefaultRegistryPath returns the config.json location under the user config
// directory.
func DefaultRegistryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "tuxbot", "config.json")
}

func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:      path,
		instances: map[string]Instance{},
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &r.instances); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	return r, nil
}

// Names returns all registered instance names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Get(name string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Register adds a new instance entry and persists the registry.
func (r *Registry) Register(name, dataPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[name]; ok {
		return fmt.Errorf("instance %q already exists", name)
	}
	r.instances[name] = Instance{DataPath: dataPath}
	return r.save()
}

// SetRunning flips the IS_RUNNING flag for an instance and persists the
// registry immediately.
func (r *Registry) SetRunning(name string, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("unknown instance %q", name)
	}
	inst.IsRunning = running
	r.instances[name] = inst
	return r.save()
}

func (r *Registry) save() error {
	raw, err := json.MarshalIndent(r.instances, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o644)
}
