package llm

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var completionsBucket = []byte("completions")

// CachedCompleter memoises completions in a bbolt file so a retried job does not pay twice
// for an identical request.
type CachedCompleter struct {
	next Completer
	db   *bolt.DB
	log  *slog.Logger
}

// OpenCachedCompleter opens (or creates) the cache file at path and wraps next.
func OpenCachedCompleter(path string, next Completer, logger *slog.Logger) (*CachedCompleter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open llm cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(completionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init llm cache: %w", err)
	}
	return &CachedCompleter{next: next, db: db, log: logger}, nil
}

func (c *CachedCompleter) Close() error { return c.db.Close() }

// CacheKey is the SHA-256 of the request's canonical JSON form.
func CacheKey(req ChatRequest) ([]byte, error) {
	b, err := json.Marshal(struct {
		Name   string         `json:"name"`
		System string         `json:"system"`
		User   string         `json:"user"`
		Images []string       `json:"images,omitempty"`
		Schema map[string]any `json:"schema,omitempty"`
		Vision bool           `json:"vision,omitempty"`
		Scope  string         `json:"scope,omitempty"`
	}{req.Name, req.System, req.User, req.Images, req.Schema, req.Vision, req.Scope})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

func (c *CachedCompleter) CompleteJSON(ctx context.Context, req ChatRequest) ([]byte, error) {
	key, err := CacheKey(req)
	if err != nil {
		return c.next.CompleteJSON(ctx, req)
	}

	var hit []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(completionsBucket).Get(key); v != nil {
			hit = append([]byte(nil), v...)
		}
		return nil
	})
	if hit != nil {
		c.log.Debug("llm.cache.hit", "shape", req.Name, "bytes", len(hit))
		return hit, nil
	}

	raw, err := c.next.CompleteJSON(ctx, req)
	if err != nil {
		return nil, err
	}
	// only cache documents that match the schema; a bad answer should be re-asked
	if req.Schema != nil && ValidateJSONAgainstSchema(req.Schema, raw) != nil {
		return raw, nil
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(completionsBucket).Put(key, raw)
	}); err != nil {
		c.log.Warn("llm.cache.write_failed", "shape", req.Name, "error", err)
	}
	return raw, nil
}
