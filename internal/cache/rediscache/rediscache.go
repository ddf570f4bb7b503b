// Package rediscache implements ledger.AvailabilityCache on Redis.
//
// Entries are keyed by a generation counter plus the filter. Invalidate bumps
// the counter, orphaning every cached result at once; orphans expire by TTL.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/store/storedoc"
	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "lifeblox"
	defaultTTL    = time.Minute
)

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix namespaces keys.
func WithPrefix(prefix string) Option {
	return func(cache *Cache) {
		if prefix != "" {
			cache.prefix = prefix
		}
	}
}

// WithTTL bounds how long a result may be served.
func WithTTL(ttl time.Duration) Option {
	return func(cache *Cache) {
		if ttl > 0 {
			cache.ttl = ttl
		}
	}
}

// Cache stores availability results in Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New returns a Cache over client.
func New(client redis.UniversalClient, options ...Option) *Cache {
	cache := &Cache{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, option := range options {
		option(cache)
	}
	return cache
}

// Ping checks connectivity.
func (cache *Cache) Ping(ctx context.Context) error {
	return cache.client.Ping(ctx).Err()
}

func (cache *Cache) Get(ctx context.Context, filter ledger.AvailabilityFilter) (ledger.CacheLookup, error) {
	generation, err := cache.generation(ctx)
	if err != nil {
		return ledger.CacheLookup{}, err
	}
	lookup := ledger.CacheLookup{Generation: generation}
	key := EntryKey(cache.prefix, generation, filter)
	payload, err := cache.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return lookup, nil
	}
	if err != nil {
		return ledger.CacheLookup{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	matches, err := DecodeMatches(payload)
	if err != nil {
		return ledger.CacheLookup{}, err
	}
	lookup.Matches = matches
	lookup.Found = true
	return lookup, nil
}

// Put writes under generation, never the current counter: a result read
// before an Invalidate lands in an orphaned key.
func (cache *Cache) Put(ctx context.Context, generation int64, filter ledger.AvailabilityFilter, matches []ledger.AvailabilityMatch) error {
	key := EntryKey(cache.prefix, generation, filter)
	payload, err := EncodeMatches(matches)
	if err != nil {
		return err
	}
	if err := cache.client.Set(ctx, key, payload, cache.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (cache *Cache) Invalidate(ctx context.Context) error {
	if err := cache.client.Incr(ctx, cache.generationKey()).Err(); err != nil {
		return fmt.Errorf("redis incr generation: %w", err)
	}
	return nil
}

func (cache *Cache) generationKey() string {
	return cache.prefix + ":availability:generation"
}

func (cache *Cache) generation(ctx context.Context) (int64, error) {
	generation, err := cache.client.Get(ctx, cache.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return generation, nil
}

// EntryKey names the cached result for filter at generation.
func EntryKey(prefix string, generation int64, filter ledger.AvailabilityFilter) string {
	return fmt.Sprintf("%s:availability:%d:%s", prefix, generation, filter.Key())
}

type matchDocument struct {
	Bank    ledger.PublicInfo `json:"bank"`
	Batches json.RawMessage   `json:"batches"`
}

// EncodeMatches serializes matches for storage.
func EncodeMatches(matches []ledger.AvailabilityMatch) ([]byte, error) {
	documents := make([]matchDocument, 0, len(matches))
	for _, match := range matches {
		batches, err := storedoc.EncodeBatches(match.Batches)
		if err != nil {
			return nil, err
		}
		documents = append(documents, matchDocument{Bank: match.Bank, Batches: batches})
	}
	return json.Marshal(documents)
}

// DecodeMatches parses a payload written by EncodeMatches.
func DecodeMatches(payload []byte) ([]ledger.AvailabilityMatch, error) {
	var documents []matchDocument
	if err := json.Unmarshal(payload, &documents); err != nil {
		return nil, fmt.Errorf("decode cached matches: %w", err)
	}
	matches := make([]ledger.AvailabilityMatch, 0, len(documents))
	for _, document := range documents {
		batches, err := storedoc.DecodeBatches(document.Batches)
		if err != nil {
			return nil, err
		}
		matches = append(matches, ledger.AvailabilityMatch{Bank: document.Bank, Batches: batches})
	}
	return matches, nil
}
