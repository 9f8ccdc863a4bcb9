// Package containercfg implements C9: container templates that inherit
// fields from parent templates along an `extends` graph, merged depth-first
// with first-set-wins semantics, then defaulted.
package containercfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadds/job-judge/pkg/apperror"
)

// Limit describes the resource ceiling applied to a container.
type Limit struct {
	CPU    string `yaml:"cpu,omitempty"`
	Memory string `yaml:"memory,omitempty"`
	IO     string `yaml:"io,omitempty"`
}

// Template is one named entry in the container config document. Extends
// names zero or more parent templates this one inherits unset fields from;
// more than one parent makes the inheritance structure a DAG rather than a
// tree, so resolution walks it depth-first rather than following a single
// parent pointer.
type Template struct {
	Extends     []string `yaml:"extends,omitempty"`
	Namespace   string   `yaml:"namespace,omitempty"`
	Image       string   `yaml:"image,omitempty"`
	Limit       *Limit   `yaml:"limit,omitempty"`
	Runtime     string   `yaml:"runtime,omitempty"`
	Snapshotter string   `yaml:"snapshotter,omitempty"`
}

// document is the on-disk shape: a flat map of template name to Template.
type document struct {
	Templates map[string]Template `yaml:"templates"`
}

// Registry holds the loaded template graph and resolves named configs
// against it.
type Registry struct {
	templates map[string]Template
}

// Load reads and parses a container config document from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("containercfg: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Registry from an in-memory YAML document, the shape Load
// reads off disk.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("containercfg: %w", err)
	}
	return &Registry{templates: doc.Templates}, nil
}

// Resolve walks name's extends graph depth-first, merges first-set-wins,
// and applies the spec's post-traversal defaults to any field still unset.
func (r *Registry) Resolve(name string) (Template, error) {
	merged, err := r.resolve(name, map[string]bool{})
	if err != nil {
		return Template{}, err
	}
	applyDefaults(&merged)
	merged.Extends = nil
	return merged, nil
}

func (r *Registry) resolve(name string, visiting map[string]bool) (Template, error) {
	if visiting[name] {
		return Template{}, apperror.New(apperror.CodeCyclicExtends, apperror.ErrCyclicExtends.Message).WithField(name)
	}
	tmpl, ok := r.templates[name]
	if !ok {
		return Template{}, apperror.New(apperror.CodeNotFound, "container template not found").WithField(name)
	}

	visiting[name] = true
	defer delete(visiting, name)

	merged := tmpl
	if tmpl.Limit != nil {
		limit := *tmpl.Limit
		merged.Limit = &limit
	}
	for _, parent := range tmpl.Extends {
		parentMerged, err := r.resolve(parent, visiting)
		if err != nil {
			return Template{}, err
		}
		fillMissing(&merged, parentMerged)
	}
	return merged, nil
}

// fillMissing copies any field left zero in dst from src. The caller
// guarantees dst's own explicit fields were set before this is called, so
// this implements "first-set wins": a field set by the child, or by an
// earlier parent in DFS order, is never overwritten.
func fillMissing(dst *Template, src Template) {
	if dst.Namespace == "" {
		dst.Namespace = src.Namespace
	}
	if dst.Image == "" {
		dst.Image = src.Image
	}
	if dst.Runtime == "" {
		dst.Runtime = src.Runtime
	}
	if dst.Snapshotter == "" {
		dst.Snapshotter = src.Snapshotter
	}
	if dst.Limit == nil {
		dst.Limit = src.Limit
	} else if src.Limit != nil {
		if dst.Limit.CPU == "" {
			dst.Limit.CPU = src.Limit.CPU
		}
		if dst.Limit.Memory == "" {
			dst.Limit.Memory = src.Limit.Memory
		}
		if dst.Limit.IO == "" {
			dst.Limit.IO = src.Limit.IO
		}
	}
}

func applyDefaults(t *Template) {
	if t.Namespace == "" {
		t.Namespace = "default"
	}
	if t.Image == "" {
		t.Image = "docker.io/alpine:latest"
	}
	if t.Runtime == "" {
		t.Runtime = "io.containerd.runc.v2"
	}
	if t.Snapshotter == "" {
		t.Snapshotter = "native"
	}
	if t.Limit == nil {
		t.Limit = &Limit{}
	}
	if t.Limit.CPU == "" {
		t.Limit.CPU = "50m"
	}
	if t.Limit.Memory == "" {
		t.Limit.Memory = "50M"
	}
	if t.Limit.IO == "" {
		t.Limit.IO = "100"
	}
}
