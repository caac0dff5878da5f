package stage

import (
	"context"
	"fmt"

	"github.com/counselmesh/counselmesh/core"
)

// Profile loads the user's durable profile in phase 0, concurrently with
// the safety screen. The loaded profile rides back through the partial
// update (set-once) together with any facts the profile already knows,
// so signal extraction does not have to re-ask for them.
type Profile struct {
	store core.ProfileStore
}

// NewProfile creates the profile stage.
func NewProfile(store core.ProfileStore) *Profile { return &Profile{store: store} }

// Name implements core.Stage.
func (p *Profile) Name() string { return "profile" }

// Run implements core.Stage.
func (p *Profile) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	prof, err := p.store.Load(ctx, view.UserID)
	if err != nil {
		return core.PartialUpdate{}, core.NewStageError(p.Name(), core.KindUnavailable, fmt.Errorf("load profile: %w", err))
	}

	update := core.PartialUpdate{Profile: prof}
	if loc, ok := prof.Notes["location"]; ok && loc != "" {
		update.Facts = map[string]any{"location": loc}
	}
	return update, nil
}

// Default implements core.Default: an empty profile keeps the turn moving
// when the store is down; post-turn jobs will skip persistence.
func (p *Profile) Default(view core.TurnView) core.PartialUpdate {
	return core.PartialUpdate{Profile: core.NewProfile(view.UserID)}
}
