// Package blocklist implements the globally replicated blocklist subsystem
// (spec §4.6): direct-mode and cuckoo-mode reads, the write path shared by
// both modes, the queue consumer that mutates the shared Cuckoo filter, and
// the cron rebuild worker.
package blocklist

import (
	"encoding/json"
	"strings"
	"time"
)

// BlockRecord is the KV value for a blocked key (spec §3).
type BlockRecord struct {
	Blocked     bool     `json:"blocked"`
	Reason      string   `json:"reason"`
	BlockedAt   int64    `json:"blocked_at"`
	ExpiresAt   int64    `json:"expires_at"`
	Score       int      `json:"score,omitempty"`
	AttackTypes []string `json:"attack_types,omitempty"`
}

// QueueAction names what a BlockQueueMessage asks the consumer to do.
type QueueAction string

const (
	QueueActionAdd    QueueAction = "add"
	QueueActionRemove QueueAction = "remove"
)

// QueueMessage is the async reconciliation message (spec §3).
type QueueMessage struct {
	Key         string      `json:"key"`
	Action      QueueAction `json:"action"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   int64       `json:"timestamp"`
	ExpiresAt   int64       `json:"expires_at,omitempty"`
	Score       int         `json:"score,omitempty"`
	AttackTypes []string    `json:"attack_types,omitempty"`
}

// Config controls key prefixes and TTLs for the subsystem.
type Config struct {
	KeyPrefix      string        // default "blocked:"
	DefaultTTL     time.Duration // applied when a block action doesn't specify one
	ReadCacheTTL   time.Duration // carried from config (default 1h); Reader does not read it, so direct-mode lookups hit the KV every time
	PendingTTL     time.Duration // pending cache entry cap (default 300s)
	FilterCacheTTL time.Duration // edge cache TTL for the deserialized filter (default 300s)
	FilterCapacity int           // cuckoo filter capacity (default 100_000)
	VerifyWithKV   bool          // cuckoo-mode: verify filter hits against KV
	CuckooMode     bool          // false => direct mode only
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "blocked:",
		DefaultTTL:     time.Hour,
		ReadCacheTTL:   time.Hour,
		PendingTTL:     300 * time.Second,
		FilterCacheTTL: 300 * time.Second,
		FilterCapacity: 100_000,
		VerifyWithKV:   true,
		CuckooMode:     true,
	}
}

func (c Config) kvKey(rawKey string) string { return c.KeyPrefix + rawKey }

// pendingURL builds the synthetic pending-cache URL (spec §3).
func pendingURL(rawKey string) string {
	return "https://sentinel.internal/blocklist/pending/" + urlEncode(rawKey)
}

const filterURL = "https://sentinel.internal/blocklist/filter/v1"

func urlEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteString("%")
			const hex = "0123456789ABCDEF"
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xF])
		}
	}
	return b.String()
}

func marshalRecord(r BlockRecord) []byte {
	b, _ := json.Marshal(r)
	return b
}

// parseRecordOrReason parses a KV value as either a BlockRecord JSON object
// or a bare reason string, per direct-mode's lenient read (spec §4.6.1).
// Reserved markers "true"/"1" count as blocked-with-no-reason.
func parseRecordOrReason(raw []byte) (reason string, blockedAt int64, ok bool) {
	var rec BlockRecord
	if err := json.Unmarshal(raw, &rec); err == nil && (rec.Blocked || rec.Reason != "") {
		return rec.Reason, rec.BlockedAt, true
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "", 0, false
	}
	if s == "true" || s == "1" {
		return "", 0, true
	}
	return s, 0, true
}
