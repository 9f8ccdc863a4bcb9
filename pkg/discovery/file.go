package discovery

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// fileDocument mirrors the on-disk TOML shape:
//
//	[modules.judge.instances.judge-0]
//	address = "10.0.0.1:11100"
type fileDocument struct {
	Modules map[string]struct {
		Instances map[string]struct {
			Address string `toml:"address"`
		} `toml:"instances"`
	} `toml:"modules"`
}

// FileProvider reads a static TOML discovery document. It re-reads the
// file on every call, so external editors can update it in place.
type FileProvider struct {
	path string
	mu   sync.Mutex
}

// NewFileProvider returns a Provider backed by the TOML document at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) load() (fileDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var doc fileDocument
	data, err := os.ReadFile(p.path)
	if err != nil {
		return doc, fmt.Errorf("discovery: read %s: %w", p.path, err)
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return doc, nil
}

func (p *FileProvider) ListModules(_ context.Context) ([]string, error) {
	doc, err := p.load()
	if err != nil {
		return nil, err
	}
	modules := make([]string, 0, len(doc.Modules))
	for name := range doc.Modules {
		modules = append(modules, name)
	}
	sort.Strings(modules)
	return modules, nil
}

func (p *FileProvider) ListInstances(_ context.Context, module string) ([]Instance, error) {
	doc, err := p.load()
	if err != nil {
		return nil, err
	}
	mod, ok := doc.Modules[module]
	if !ok {
		return nil, nil
	}
	instances := make([]Instance, 0, len(mod.Instances))
	for name, inst := range mod.Instances {
		instances = append(instances, Instance{Name: name, Address: inst.Address})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	return instances, nil
}
