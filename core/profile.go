package core

import (
	"context"
	"time"
)

// Profile is the durable per-user record loaded during phase 0 and updated
// by post-turn jobs. Retention (TTL) is the store's concern.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`

	// Goals the user has articulated across the relationship.
	Goals []string `json:"goals,omitempty"`

	// ProgressMarkers is the append-only set of milestone tags.
	ProgressMarkers []string `json:"progress_markers,omitempty"`

	// EngagementTrend is an exponentially smoothed engagement level in
	// [0,10] maintained by the post-turn job.
	EngagementTrend float64 `json:"engagement_trend"`

	Notes map[string]string `json:"notes,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// NewProfile creates an empty profile for the user.
func NewProfile(userID string) *Profile {
	now := time.Now().UTC()
	return &Profile{UserID: userID, Notes: map[string]string{}, Created: now, Updated: now}
}

// HasMarker reports whether a milestone tag is already recorded.
func (p *Profile) HasMarker(tag string) bool {
	for _, m := range p.ProgressMarkers {
		if m == tag {
			return true
		}
	}
	return false
}

// AddMarker appends a milestone tag if not yet present.
func (p *Profile) AddMarker(tag string) {
	if tag == "" || p.HasMarker(tag) {
		return
	}
	p.ProgressMarkers = append(p.ProgressMarkers, tag)
	p.Updated = time.Now().UTC()
}

// Clone returns a deep copy safe for independent mutation.
func (p *Profile) Clone() *Profile {
	clone := *p
	clone.Goals = append([]string(nil), p.Goals...)
	clone.ProgressMarkers = append([]string(nil), p.ProgressMarkers...)
	clone.Notes = make(map[string]string, len(p.Notes))
	for k, v := range p.Notes {
		clone.Notes[k] = v
	}
	return &clone
}

// ProfileStore persists user profiles. Load creates lazily.
type ProfileStore interface {
	Load(ctx context.Context, userID string) (*Profile, error)
	Save(ctx context.Context, profile *Profile) error
}
