package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crucible/internal/logging"
)

const (
	recordKeyPrefix = "crucible:record:"
	entriesKey      = "crucible:knowledge"

	redisDialTimeout = 2 * time.Second
)

// hybridBackend keeps session-scoped error records in redis (with per-key
// expiration) and mirrors knowledge entries there as a cache, while a
// durable delegate owns the entries of record. If redis is unreachable the
// factory falls back to the delegate alone - logged, never fatal.
type hybridBackend struct {
	client  *redis.Client
	durable Backend
}

// NewHybridBackend wires a redis client over a durable delegate. When the
// initial ping fails the delegate is returned by itself so a missing cache
// never blocks validation.
func NewHybridBackend(addr string, durable Backend) (Backend, error) {
	if durable == nil {
		return nil, fmt.Errorf("hybrid backend requires a durable delegate")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: redisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.StoreWarn("Redis unreachable at %s, degrading to %s backend only: %v",
			addr, durable.Name(), err)
		client.Close()
		return durable, nil
	}

	logging.Store("Hybrid knowledge backend: redis at %s over %s", addr, durable.Name())
	return &hybridBackend{client: client, durable: durable}, nil
}

func (h *hybridBackend) LoadEntries(ctx context.Context) ([]*KnowledgeEntry, error) {
	// Try the cache first; any failure falls through to the durable store.
	data, err := h.client.Get(ctx, entriesKey).Bytes()
	if err == nil {
		var entries []*KnowledgeEntry
		if jsonErr := json.Unmarshal(data, &entries); jsonErr == nil {
			logging.StoreDebug("Loaded %d knowledge entries from redis cache", len(entries))
			return entries, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.StoreWarn("Redis entry cache read failed: %v", err)
	}

	return h.durable.LoadEntries(ctx)
}

func (h *hybridBackend) SaveEntries(ctx context.Context, entries []*KnowledgeEntry) error {
	// The durable store is authoritative; the cache refresh is best-effort.
	if err := h.durable.SaveEntries(ctx, entries); err != nil {
		return err
	}

	data, err := json.Marshal(entries)
	if err == nil {
		if err := h.client.Set(ctx, entriesKey, data, 0).Err(); err != nil {
			logging.StoreWarn("Redis entry cache refresh failed: %v", err)
		}
	}
	return nil
}

func (h *hybridBackend) PutRecord(ctx context.Context, record *ErrorRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}
	if err := h.client.Set(ctx, recordKeyPrefix+record.ID, data, ttl).Err(); err != nil {
		// Keep the record reachable through the delegate instead.
		logging.StoreWarn("Redis record write failed, using %s: %v", h.durable.Name(), err)
		return h.durable.PutRecord(ctx, record, ttl)
	}
	return nil
}

func (h *hybridBackend) GetRecord(ctx context.Context, id string) (*ErrorRecord, error) {
	data, err := h.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return h.durable.GetRecord(ctx, id)
	}
	if err != nil {
		logging.StoreWarn("Redis record read failed: %v", err)
		return h.durable.GetRecord(ctx, id)
	}

	var record ErrorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse error record: %w", err)
	}
	return &record, nil
}

func (h *hybridBackend) MarkResolved(ctx context.Context, id, solution string) error {
	record, err := h.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	record.Resolved = true
	record.Solution = solution

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}

	// Preserve the remaining TTL on rewrite.
	ttl, ttlErr := h.client.TTL(ctx, recordKeyPrefix+id).Result()
	if ttlErr != nil || ttl < 0 {
		ttl = 0
	}
	if err := h.client.Set(ctx, recordKeyPrefix+id, data, ttl).Err(); err != nil {
		return h.durable.MarkResolved(ctx, id, solution)
	}
	return nil
}

func (h *hybridBackend) Name() string { return "hybrid" }

func (h *hybridBackend) Close() error {
	if err := h.client.Close(); err != nil {
		logging.StoreWarn("Redis close failed: %v", err)
	}
	return h.durable.Close()
}
