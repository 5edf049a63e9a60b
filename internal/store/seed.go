package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/routegw/internal/route"
)

// seedNamespace scopes the ids derived for seeded definitions.
var seedNamespace = uuid.MustParse("0b6f3d5e-5a43-4c3e-9b2f-7f1c2d8e6a10")

// SeedID returns the id a seeded definition is stored under. Definitions
// without an id get one derived from their route identifier, so applying
// the same seed file again replaces records instead of duplicating them.
func SeedID(def *route.Definition) string {
	if def.ID != "" {
		return def.ID
	}
	return uuid.NewSHA1(seedNamespace, []byte(def.Key())).String()
}

// Seed saves defs into s and returns the number saved.
func Seed(ctx context.Context, s Store, defs []*route.Definition) (int, error) {
	n := 0
	for i, def := range defs {
		if def == nil {
			continue
		}
		if def.Key() == "" {
			return n, fmt.Errorf("seed route %d: routeIdentifier or id is required", i)
		}
		c := def.Clone()
		c.ID = SeedID(def)
		if _, err := s.Save(ctx, c); err != nil {
			return n, fmt.Errorf("seed route %q: %w", def.Key(), err)
		}
		n++
	}
	return n, nil
}
