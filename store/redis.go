package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/counselmesh/counselmesh/core"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces all keys. Default "counselmesh".
	Prefix string
	// ConversationTTL bounds conversation retention; 0 keeps records
	// forever.
	ConversationTTL time.Duration
	// ProfileTTL bounds profile retention; 0 keeps records forever.
	ProfileTTL time.Duration
}

// RedisStore persists conversations and profiles as JSON values in Redis.
// Per-conversation turn serialization in the engine guarantees a single
// writer per key, so plain SET is sufficient.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(*RedisOptions)) *RedisStore {
	opts := RedisOptions{Prefix: "counselmesh"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, opts: opts}
}

func (s *RedisStore) conversationKey(id string) string {
	return fmt.Sprintf("%s:conv:%s", s.opts.Prefix, id)
}

func (s *RedisStore) profileKey(userID string) string {
	return fmt.Sprintf("%s:profile:%s", s.opts.Prefix, userID)
}

// Get implements core.ConversationStore.
func (s *RedisStore) Get(ctx context.Context, id string) (*core.Conversation, error) {
	raw, err := s.client.Get(ctx, s.conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.NewConversation(id, ""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get conversation %s: %w", id, err)
	}
	var conv core.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if conv.ShownSuggestions == nil {
		conv.ShownSuggestions = map[string]bool{}
	}
	if conv.Facts == nil {
		conv.Facts = map[string]any{}
	}
	return &conv, nil
}

// Put implements core.ConversationStore.
func (s *RedisStore) Put(ctx context.Context, conv *core.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}
	if err := s.client.Set(ctx, s.conversationKey(conv.ID), raw, s.opts.ConversationTTL).Err(); err != nil {
		return fmt.Errorf("redis put conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Load implements core.ProfileStore.
func (s *RedisStore) Load(ctx context.Context, userID string) (*core.Profile, error) {
	raw, err := s.client.Get(ctx, s.profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.NewProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load profile %s: %w", userID, err)
	}
	var prof core.Profile
	if err := json.Unmarshal(raw, &prof); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	if prof.Notes == nil {
		prof.Notes = map[string]string{}
	}
	return &prof, nil
}

// Save implements core.ProfileStore.
func (s *RedisStore) Save(ctx context.Context, profile *core.Profile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", profile.UserID, err)
	}
	if err := s.client.Set(ctx, s.profileKey(profile.UserID), raw, s.opts.ProfileTTL).Err(); err != nil {
		return fmt.Errorf("redis save profile %s: %w", profile.UserID, err)
	}
	return nil
}

// RedisIndex keeps research documents in a Redis list and scores them
// client-side with the same keyword overlap as MemoryIndex. Corpora here
// are small curated background snippets, so a full-text engine would be
// overkill.
type RedisIndex struct {
	client redis.UniversalClient
	key    string
}

// NewRedisIndex creates an index under the given key (default
// "counselmesh:research").
func NewRedisIndex(client redis.UniversalClient, key string) *RedisIndex {
	if key == "" {
		key = "counselmesh:research"
	}
	return &RedisIndex{client: client, key: key}
}

// Store implements core.SearchIndex.
func (idx *RedisIndex) Store(ctx context.Context, content string, _ map[string]any) error {
	if err := idx.client.RPush(ctx, idx.key, content).Err(); err != nil {
		return fmt.Errorf("redis index store: %w", err)
	}
	return nil
}

// Search implements core.SearchIndex.
func (idx *RedisIndex) Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	raw, err := idx.client.LRange(ctx, idx.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index search: %w", err)
	}
	docs := make([]indexDoc, 0, len(raw))
	for _, content := range raw {
		docs = append(docs, indexDoc{content: content, tokens: tokenize(content)})
	}
	return scoreDocs(docs, query, limit), nil
}
