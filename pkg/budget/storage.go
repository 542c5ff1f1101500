package budget

import "context"

// Storage persists budget state.
//
// Load returns (nil, nil) for a mandate that was never saved. Save is a
// compare-and-set on State.Version: it fails with ErrVersionConflict unless
// the stored version still equals state.Version, and on success bumps
// state.Version to the new stored version.
type Storage interface {
	Load(ctx context.Context, mandateID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, mandateID string) error
}
