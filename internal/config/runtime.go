package config

import (
	"errors"
	"sync/atomic"
)

// Runtime holds the current configuration snapshots. Readers always see a
// complete snapshot; Reload swaps each one only when it parsed cleanly.
type Runtime struct {
	root    string
	gateway atomic.Pointer[GatewayConfig]
	models  atomic.Pointer[ModelTable]
}

// NewRuntime loads the initial snapshots. Errors here are fatal.
func NewRuntime(root string) (*Runtime, error) {
	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		return nil, err
	}
	models, err := LoadModels(cfg.ModelsPath)
	if err != nil {
		return nil, err
	}
	r := &Runtime{root: root}
	r.gateway.Store(&cfg)
	r.models.Store(models)
	return r, nil
}

func (r *Runtime) Gateway() *GatewayConfig { return r.gateway.Load() }

func (r *Runtime) Models() *ModelTable { return r.models.Load() }

// Reload re-reads both files. A broken file keeps its previous snapshot.
func (r *Runtime) Reload() error {
	var errs []error
	cfg, err := LoadGatewayConfig(r.root)
	if err != nil {
		errs = append(errs, err)
	} else {
		r.gateway.Store(&cfg)
	}
	models, err := LoadModels(r.Gateway().ModelsPath)
	if err != nil {
		errs = append(errs, err)
	} else {
		r.models.Store(models)
	}
	return errors.Join(errs...)
}
