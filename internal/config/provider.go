package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/joho/godotenv"
)

// Provider holds the process-wide configuration. It is loaded once at start
// and replaced only by an explicit Reload.
type Provider struct {
	envFile string

	// reloadMu serializes whole reloads so hooks see configs in store order.
	reloadMu sync.Mutex

	mu       sync.RWMutex
	cfg      *Config
	onReload []func(*Config)
}

// NewProvider reads envFile (if present) without overriding variables that are
// already set, then loads the configuration.
func NewProvider(envFile string) (*Provider, error) {
	if err := readEnvFile(envFile, godotenv.Load); err != nil {
		return nil, err
	}
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return &Provider{envFile: envFile, cfg: cfg}, nil
}

// Current returns the active configuration. Callers must not modify it.
func (p *Provider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// OnReload registers fn to run with the new configuration after each
// successful Reload.
func (p *Provider) OnReload(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReload = append(p.onReload, fn)
}

// Reload re-reads envFile, letting its values override the environment, and
// swaps in the new configuration. On error the previous configuration stays
// active. Concurrent reloads run one at a time, hooks included.
func (p *Provider) Reload() (*Config, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	if err := readEnvFile(p.envFile, godotenv.Overload); err != nil {
		return nil, err
	}
	cfg, err := Load()
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	p.mu.Lock()
	p.cfg = cfg
	hooks := append([]func(*Config){}, p.onReload...)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(cfg)
	}
	return cfg, nil
}

func readEnvFile(path string, read func(...string) error) error {
	if path == "" {
		return nil
	}
	if err := read(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}
