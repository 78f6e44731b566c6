package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// StoreRebinder is implemented by the embedded store so Settings can close
// and reopen it when the database path changes at runtime, without
// importing internal/store here (that would cycle: store needs config.Config
// values to open itself).
type StoreRebinder interface {
	Rebind(ctx context.Context, path string) error
}

// Settings is the single process-wide settings object required by spec.md
// §5: "Settings are a single process-wide object; writes are serialized
// through the settings manager, which additionally rebinds the store when
// the DB path changes at runtime."
type Settings struct {
	mu    sync.RWMutex
	cfg   *Config
	store StoreRebinder
}

// NewSettings wraps cfg behind a Settings manager. AttachStore may be called
// later once the coordinator has opened the store, to enable DB-path
// rebinding.
func NewSettings(cfg *Config) *Settings {
	return &Settings{cfg: cfg}
}

// AttachStore records the store to rebind when the database path changes.
func (s *Settings) AttachStore(store StoreRebinder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
}

// Snapshot returns a shallow copy of the current configuration. Callers must
// not mutate nested pointers/slices concurrently; the intent is read-mostly
// access to scalar tuning values.
func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// LLM returns the current LLM provider settings.
func (s *Settings) LLM() LLMConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.LLM
}

// SetLLM replaces the LLM provider settings.
func (s *Settings) SetLLM(llm LLMConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.LLM = llm
	log.Info().Str("provider", llm.Provider).Str("model", llm.Model).Msg("settings_llm_updated")
}

// DatabasePath returns the currently configured store path.
func (s *Settings) DatabasePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Database.Path
}

// SetDatabasePath updates the configured store path and, if a store has
// been attached, rebinds it to the new file - closing the old connection
// pool and opening the new one under the settings lock so concurrent
// readers never observe a half-switched state.
func (s *Settings) SetDatabasePath(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Rebind(ctx, path); err != nil {
			return fmt.Errorf("rebind store to %s: %w", path, err)
		}
	}
	s.cfg.Database.Path = path
	log.Info().Str("path", path).Msg("settings_database_path_changed")
	return nil
}
