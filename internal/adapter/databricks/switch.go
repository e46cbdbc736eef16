package databricks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/couchcryptid/crisis-data-service/internal/config"
	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
)

// Asker answers natural-language questions.
type Asker interface {
	Ask(ctx context.Context, prompt string) (GenieAnswer, error)
}

// NewExecutorFromConfig builds the statement client behind the result cache.
// It returns nil when the warehouse is not configured.
func NewExecutorFromConfig(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *CachedExecutor {
	if !cfg.DatabricksConfigured() {
		return nil
	}
	client := NewClient(Options{
		Host:         cfg.DatabricksHost,
		Token:        cfg.DatabricksToken,
		WarehouseID:  cfg.DatabricksWarehouseID,
		WaitTimeout:  cfg.WaitTimeout,
		HTTPTimeout:  cfg.HTTPTimeout,
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
	}, metrics, logger)
	return NewCachedExecutor(client, cfg.ResultCacheSize, cfg.ResultCacheTTL, nil, metrics)
}

// NewGenieFromConfig builds a Genie client, or nil when Genie is not configured.
func NewGenieFromConfig(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *GenieClient {
	if !cfg.GenieConfigured() {
		return nil
	}
	return NewGenieClient(GenieOptions{
		Host:         cfg.DatabricksHost,
		Token:        cfg.DatabricksToken,
		SpaceID:      cfg.GenieSpaceID,
		HTTPTimeout:  cfg.HTTPTimeout,
		PollInterval: cfg.GeniePollInterval,
		MaxPolls:     cfg.GenieMaxPolls,
	}, metrics, logger)
}

// Switch routes calls to the clients built from the active configuration, so
// a config reload swaps credentials without restarting callers.
type Switch struct {
	metrics *observability.Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	exec  *CachedExecutor
	genie *GenieClient
}

// NewSwitch creates a Switch configured from cfg.
func NewSwitch(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Switch {
	s := &Switch{metrics: metrics, logger: logger}
	s.Apply(cfg)
	return s
}

// Apply rebuilds the clients from cfg. Cached results of the previous
// executor are dropped since they may come from another warehouse or table.
func (s *Switch) Apply(cfg *config.Config) {
	exec := NewExecutorFromConfig(cfg, s.metrics, s.logger)
	genie := NewGenieFromConfig(cfg, s.metrics, s.logger)

	s.mu.Lock()
	old := s.exec
	s.exec, s.genie = exec, genie
	s.mu.Unlock()

	if old != nil {
		old.Purge()
	}
	s.logger.Info("databricks clients configured",
		"warehouse", exec != nil,
		"genie", genie != nil,
	)
}

// Execute runs statement on the current warehouse client.
func (s *Switch) Execute(ctx context.Context, statement string) (domain.RecordSet, error) {
	s.mu.RLock()
	exec := s.exec
	s.mu.RUnlock()
	if exec == nil {
		return nil, &domain.StatementError{Kind: domain.KindSubmission, Message: "databricks warehouse not configured"}
	}
	return exec.Execute(ctx, statement)
}

// Ask forwards prompt to the current Genie client.
func (s *Switch) Ask(ctx context.Context, prompt string) (GenieAnswer, error) {
	s.mu.RLock()
	genie := s.genie
	s.mu.RUnlock()
	if genie == nil {
		return GenieAnswer{}, &domain.StatementError{Kind: domain.KindSubmission, Message: "genie space not configured"}
	}
	return genie.Ask(ctx, prompt)
}
