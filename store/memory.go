// Package store provides the persistence implementations behind the
// core.ConversationStore, core.ProfileStore and core.SearchIndex
// contracts: an in-memory store for tests and single-node runs, and a
// Redis-backed store for deployments.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/counselmesh/counselmesh/core"
)

// MemoryStore keeps conversations and profiles in process memory. Reads
// and writes exchange deep copies, so callers can mutate freely between
// Get and Put.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	profiles      map[string]*core.Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*core.Conversation{},
		profiles:      map[string]*core.Profile{},
	}
}

// Get implements core.ConversationStore. Unknown ids yield a fresh
// conversation with the user left blank; the engine fills it in.
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return core.NewConversation(id, ""), nil
	}
	return conv.Clone(), nil
}

// Put implements core.ConversationStore.
func (s *MemoryStore) Put(ctx context.Context, conv *core.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

// Load implements core.ProfileStore. Unknown users yield a fresh profile.
func (s *MemoryStore) Load(ctx context.Context, userID string) (*core.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	prof, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return core.NewProfile(userID), nil
	}
	return prof.Clone(), nil
}

// Save implements core.ProfileStore.
func (s *MemoryStore) Save(ctx context.Context, profile *core.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

type indexDoc struct {
	content string
	tokens  map[string]bool
}

// MemoryIndex is a keyword-overlap core.SearchIndex backing the research
// stage in tests and single-node runs.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs []indexDoc
}

// NewMemoryIndex creates an empty index, optionally seeded with documents.
func NewMemoryIndex(documents ...string) *MemoryIndex {
	idx := &MemoryIndex{}
	for _, doc := range documents {
		idx.docs = append(idx.docs, indexDoc{content: doc, tokens: tokenize(doc)})
	}
	return idx
}

// Store implements core.SearchIndex. Metadata is accepted for interface
// compatibility and not indexed.
func (idx *MemoryIndex) Store(ctx context.Context, content string, _ map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = append(idx.docs, indexDoc{content: content, tokens: tokenize(content)})
	return nil
}

// Search implements core.SearchIndex.
func (idx *MemoryIndex) Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return scoreDocs(idx.docs, query, limit), nil
}

// scoreDocs ranks documents by the share of query tokens they contain,
// dropping zero-score documents.
func scoreDocs(docs []indexDoc, query string, limit int) []core.SearchResult {
	if limit <= 0 {
		limit = 3
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	var results []core.SearchResult
	for _, doc := range docs {
		hits := 0
		for tok := range queryTokens {
			if doc.tokens[tok] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, core.SearchResult{
			Content: doc.content,
			Score:   float64(hits) / float64(len(queryTokens)),
		})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) > 2 {
			tokens[f] = true
		}
	}
	return tokens
}
