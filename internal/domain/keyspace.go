package domain

import (
	"encoding/json"
	"time"
)

// Drawing is a chart annotation saved by a user for a symbol.
type Drawing struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	Symbol    string          `json:"symbol"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// KeyInfo describes a single key in the key-value store.
type KeyInfo struct {
	Key  string
	Type string        // string, zset, hash, list, set, none
	TTL  time.Duration // -1 for persistent keys
	Size int64         // members, fields or bytes depending on Type
}

// Persistent reports whether the key has no expiry.
func (k KeyInfo) Persistent() bool {
	return k.TTL < 0
}

// Dominance is a snapshot of market cap share per asset.
type Dominance struct {
	BTC               float64   // Percent of total market cap
	ETH               float64   // Percent of total market cap
	TotalMarketCapUSD float64
	UpdatedAt         time.Time
}
