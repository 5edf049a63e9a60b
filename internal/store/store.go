// Package store persists route definitions.
//
// Every backend returns definitions in insertion order, assigns a UUID
// to definitions saved without an id and maintains their timestamps.
// Saving a definition whose id already exists replaces it in place.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const storeTracerName = "routegw/store"

// Store is a route definition repository.
type Store interface {
	// FindAll returns every definition in insertion order.
	FindAll(ctx context.Context) ([]*route.Definition, error)

	// FindByID returns the definition with id, or an error matching
	// util.ErrNotFound.
	FindByID(ctx context.Context, id string) (*route.Definition, error)

	// Save creates or replaces def and returns the stored record.
	Save(ctx context.Context, def *route.Definition) (*route.Definition, error)

	// Delete removes the definition with id, or returns an error
	// matching util.ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Close releases the backend.
	Close() error
}

// New creates the store selected by cfg.
func New(cfg *config.StoreConfig, logger observability.Logger) (Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg == nil {
		return NewMemoryStore(), nil
	}

	switch cfg.Type {
	case "", config.StoreMemory:
		logger.Info("using in-memory route store")
		return NewMemoryStore(), nil
	case config.StoreRedis:
		return NewRedisStoreFromConfig(&cfg.Redis, logger)
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.SQLite.Path, WithSQLiteLogger(logger))
	default:
		return nil, util.NewConfigError("store.type", fmt.Sprintf("unknown store %q", cfg.Type))
	}
}

// prepare returns the record to persist for def. existing is the record
// currently stored under the same id, or nil.
func prepare(def *route.Definition, existing *route.Definition, now time.Time) *route.Definition {
	out := def.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.CreatedAt = now
	if existing != nil && !existing.CreatedAt.IsZero() {
		out.CreatedAt = existing.CreatedAt
	}
	out.UpdatedAt = now
	return out
}

func notFound(id string) error {
	return fmt.Errorf("route definition %q: %w", id, util.ErrNotFound)
}

func invalidDefinition() error {
	return fmt.Errorf("route definition is nil: %w", util.ErrInvalidInput)
}
