// Package discovery resolves modules to their live instance addresses,
// either from a static TOML document or by querying DNS.
package discovery

import (
	"context"

	"github.com/kadds/job-judge/pkg/apperror"
)

// Instance is one running copy of a module.
type Instance struct {
	Name    string
	Address string
}

// Provider enumerates modules and their live instances.
type Provider interface {
	ListModules(ctx context.Context) ([]string, error)
	ListInstances(ctx context.Context, module string) ([]Instance, error)
}

// ErrInvalidData is returned when a discovery document cannot be parsed.
var ErrInvalidData = apperror.New(apperror.CodeInvalidArgument, "discovery: invalid document")
