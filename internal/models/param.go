package models

import "time"

const (
	// MaxParamKeyBytes bounds the encoded length of a param key.
	MaxParamKeyBytes = 100
	// MaxParamValueBytes bounds the encoded length of a stored ParamRecord.
	MaxParamValueBytes = 100
)

// ParamRecord is the usage state tracked for a single whitelisted param.
type ParamRecord struct {
	IsWhitelisted bool   `json:"is_whitelisted"`
	IsPrincipal   bool   `json:"is_principal"`
	LastUse       uint64 `json:"last_use"`
	Count         uint32 `json:"count"`
}

// ParamEntry is the persisted row backing the durable record map. Value holds
// the versioned binary encoding of a ParamRecord.
type ParamEntry struct {
	Key       string    `gorm:"primaryKey;size:100"`
	Value     []byte    `gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
