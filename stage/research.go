package stage

import (
	"context"
	"strings"

	"github.com/counselmesh/counselmesh/core"
)

// Research is the optional fourth member of the analysis fan-out. It
// queries the background search index for topic snippets the composer can
// fold into a reflection prompt. No model call; errors simply degrade to
// no notes.
type Research struct {
	index core.SearchIndex
	limit int
}

// NewResearch creates the research stage. limit caps retrieved snippets.
func NewResearch(index core.SearchIndex, limit int) *Research {
	if limit <= 0 {
		limit = 3
	}
	return &Research{index: index, limit: limit}
}

// Name implements core.Stage.
func (r *Research) Name() string { return "research" }

// Run implements core.Stage.
func (r *Research) Run(ctx context.Context, view core.TurnView) (core.PartialUpdate, error) {
	query := view.RedactedText
	if len(view.LegalIntent) > 0 {
		query = strings.Join(view.LegalIntent, " ") + " " + query
	}
	results, err := r.index.Search(ctx, query, r.limit)
	if err != nil {
		return core.PartialUpdate{}, core.NewStageError(r.Name(), core.KindUnavailable, err)
	}

	notes := make([]string, 0, len(results))
	for _, res := range results {
		notes = append(notes, res.Content)
	}
	return core.PartialUpdate{ResearchNotes: notes}, nil
}

// Default implements core.Default: no background this turn.
func (r *Research) Default(core.TurnView) core.PartialUpdate { return core.PartialUpdate{} }
