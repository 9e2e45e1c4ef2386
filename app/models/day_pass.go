package models

import "time"

// AnonymousDayPass grants time-boxed access to a purchase session that is not
// tied to a user account yet. The row is keyed by the opaque payment session
// token; possession of the token is the only proof of ownership. The row is
// kept after a merge so that repeated merges stay no-ops.
type AnonymousDayPass struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"session_id"`
	Provider       string    `gorm:"type:varchar(20);not null" json:"provider"`
	TransactionRef string    `gorm:"type:varchar(191);not null;index" json:"transaction_ref"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt      time.Time `gorm:"type:timestamp;not null;index" json:"expires_at"`
}
