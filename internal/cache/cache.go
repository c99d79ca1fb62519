// Package cache stores single-turn LLM responses keyed by a normalized
// fingerprint of (message, agent, requester role bucket).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/KafClaw/siteagent/internal/config"
	"github.com/KafClaw/siteagent/internal/store"
)

const keyPrefix = "cache:"

// Metadata travels with a cached response.
type Metadata struct {
	Tokens    int      `json:"tokens"`
	Cost      float64  `json:"cost"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Entry is one cached response.
type Entry struct {
	Key      string    `json:"key"`
	Response string    `json:"response"`
	Metadata Metadata  `json:"metadata"`
	CachedAt time.Time `json:"cached_at"`
}

// Result is what the orchestrator offers for caching.
type Result struct {
	Response  string
	Tokens    int
	Cost      float64
	ToolsUsed []string
	IsError   bool
}

// contextPhrases mark answers that depend on when or where they were asked.
var contextPhrases = regexp.MustCompile(`(?i)\b(this\s+(page|post|article|site|week|month)|today|tonight|current(ly)?|recent(ly)?|right\s+now|latest|yesterday|tomorrow)\b`)

var whitespace = regexp.MustCompile(`\s+`)

// Normalize lower-cases and collapses whitespace runs.
func Normalize(message string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(message), " "))
}

// Bucket maps a requester onto a cache partition. Anonymous callers share
// one bucket; authenticated callers share a bucket per role.
func Bucket(userID, role string) string {
	if userID == "" {
		return "anon"
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = "authenticated"
	}
	return "role:" + role
}

func agentPrefix(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	return keyPrefix + hex.EncodeToString(sum[:])[:16] + ":"
}

// Key returns the fingerprint for (message, agentID, bucket).
func Key(message, agentID, bucket string) string {
	sum := sha256.Sum256([]byte(Normalize(message) + "\x00" + agentID + "\x00" + bucket))
	return agentPrefix(agentID) + hex.EncodeToString(sum[:])
}

// ShouldCache reports whether a turn is eligible, with the reason when not.
func ShouldCache(message string, historyLen int, res Result, minLength int) (bool, string) {
	switch {
	case strings.TrimSpace(res.Response) == "":
		return false, "empty_response"
	case res.IsError:
		return false, "error_response"
	case len(res.ToolsUsed) > 0:
		return false, "tools_used"
	case historyLen > 0:
		return false, "multi_turn"
	case len([]rune(strings.TrimSpace(message))) < minLength:
		return false, "too_short"
	case contextPhrases.MatchString(message):
		return false, "context_dependent"
	}
	return true, ""
}

// Cache is the response cache over a KV store.
type Cache struct {
	rt  *config.Runtime
	kv  store.KV
	now func() time.Time
}

// New creates a cache.
func New(rt *config.Runtime, kv store.KV) *Cache {
	return &Cache{rt: rt, kv: kv, now: time.Now}
}

// Get returns the cached entry or nil on miss. Corrupt entries are misses.
func (c *Cache) Get(ctx context.Context, message, agentID, bucket string) (*Entry, error) {
	if !c.rt.Current().Cache.Enabled {
		return nil, nil
	}
	key := Key(message, agentID, bucket)
	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return nil, nil
	}
	entry, valid := decodeEntry(raw)
	if !valid {
		slog.Warn("Discarding malformed cache entry", "key", key)
		_ = c.kv.Delete(ctx, key)
		return nil, nil
	}
	entry.Key = key
	return entry, nil
}

func decodeEntry(raw string) (*Entry, bool) {
	var probe map[string]any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil || probe == nil {
		return nil, false
	}
	if _, ok := probe["response"].(string); !ok {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false
	}
	return &e, true
}

// Set stores res when the turn is eligible. It returns false without error
// when the turn is not cacheable.
func (c *Cache) Set(ctx context.Context, message, agentID, bucket string, historyLen int, res Result) (bool, error) {
	cfg := c.rt.Current().Cache
	if !cfg.Enabled {
		return false, nil
	}
	if ok, _ := ShouldCache(message, historyLen, res, cfg.MinMessageLength); !ok {
		return false, nil
	}
	key := Key(message, agentID, bucket)
	data, err := json.Marshal(Entry{
		Key:      key,
		Response: res.Response,
		Metadata: Metadata{Tokens: res.Tokens, Cost: res.Cost},
		CachedAt: c.now(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(data), config.ClampCacheTTL(cfg.TTL)); err != nil {
		return false, fmt.Errorf("cache set: %w", err)
	}
	return true, nil
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(ctx context.Context, message, agentID, bucket string) error {
	return c.kv.Delete(ctx, Key(message, agentID, bucket))
}

// InvalidateAgent removes every entry of one agent.
func (c *Cache) InvalidateAgent(ctx context.Context, agentID string) (int, error) {
	return c.kv.DeletePrefix(ctx, agentPrefix(agentID))
}

// ClearAll removes every cached response and returns the count.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	return c.kv.DeletePrefix(ctx, keyPrefix)
}
