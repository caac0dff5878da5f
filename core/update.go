package core

// ClampScore clamps a stage-produced score into the [0,10] range required
// for distress, engagement and alliance dimensions.
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// PartialUpdate is the output of a Stage run. All fields are optional;
// pointer fields distinguish "not produced" from a zero value. The
// orchestrator merges updates back into the TurnContext single-threaded
// after a phase join, using a fixed rule per field:
//
//   - scores: clamp-and-set
//   - sentiment tags: set-once (last writer wins within a phase, but
//     phases write disjoint fields by contract)
//   - DraftDelta: appended to DraftText
//   - LegalIntent / ProgressMarkers / ResearchNotes: set union
//   - Facts: null-safe merge, keys are never removed and nil values are
//     dropped rather than overwriting prior knowledge
type PartialUpdate struct {
	DraftDelta string

	Sentiment         *Sentiment
	EnhancedSentiment *Sentiment

	DistressScore   *float64
	EngagementLevel *float64

	AllianceBond *float64
	AllianceGoal *float64
	AllianceTask *float64

	CrisisDetected *bool

	LegalIntent     []string
	Facts           map[string]any
	ProgressMarkers []string
	ResearchNotes   []string

	// Profile is produced only by the profile stage; set-once.
	Profile *Profile
}

// IsZero reports whether the update carries no change at all.
func (u PartialUpdate) IsZero() bool {
	return u.DraftDelta == "" &&
		u.Sentiment == nil && u.EnhancedSentiment == nil &&
		u.DistressScore == nil && u.EngagementLevel == nil &&
		u.AllianceBond == nil && u.AllianceGoal == nil && u.AllianceTask == nil &&
		u.CrisisDetected == nil &&
		len(u.LegalIntent) == 0 && len(u.Facts) == 0 &&
		len(u.ProgressMarkers) == 0 && len(u.ResearchNotes) == 0 &&
		u.Profile == nil
}

// ApplyTo merges the update into tc using the per-field merge rules.
// It must only be called by the orchestrator between phases.
func (u PartialUpdate) ApplyTo(tc *TurnContext) {
	if u.DraftDelta != "" {
		tc.DraftText += u.DraftDelta
	}
	if u.Sentiment != nil {
		tc.Sentiment = *u.Sentiment
	}
	if u.EnhancedSentiment != nil {
		tc.EnhancedSentiment = *u.EnhancedSentiment
	}
	if u.DistressScore != nil {
		tc.DistressScore = ClampScore(*u.DistressScore)
	}
	if u.EngagementLevel != nil {
		tc.EngagementLevel = ClampScore(*u.EngagementLevel)
	}
	if u.AllianceBond != nil {
		tc.AllianceBond = ClampScore(*u.AllianceBond)
	}
	if u.AllianceGoal != nil {
		tc.AllianceGoal = ClampScore(*u.AllianceGoal)
	}
	if u.AllianceTask != nil {
		tc.AllianceTask = ClampScore(*u.AllianceTask)
	}
	if u.CrisisDetected != nil {
		tc.CrisisDetected = tc.CrisisDetected || *u.CrisisDetected
	}
	if u.Profile != nil && tc.Profile == nil {
		tc.Profile = u.Profile
	}
	tc.LegalIntent = mergeSet(tc.LegalIntent, u.LegalIntent)
	tc.ProgressMarkers = mergeSet(tc.ProgressMarkers, u.ProgressMarkers)
	tc.ResearchNotes = mergeSet(tc.ResearchNotes, u.ResearchNotes)
	if len(u.Facts) > 0 {
		if tc.Facts == nil {
			tc.Facts = map[string]any{}
		}
		MergeFacts(tc.Facts, u.Facts)
	}
}

// MergeFacts merges src into dst null-safely: nil values never replace an
// existing key and never introduce a new one.
func MergeFacts(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		dst[k] = v
	}
}

// mergeSet appends the members of add not already present, preserving
// first-seen order.
func mergeSet(dst, add []string) []string {
	for _, a := range add {
		if a == "" {
			continue
		}
		found := false
		for _, d := range dst {
			if d == a {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, a)
		}
	}
	return dst
}
