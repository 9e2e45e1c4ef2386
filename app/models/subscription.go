package models

import "time"

// Payment provider constants used across payment-related models.
const (
	PaymentProviderToss   = "toss"
	PaymentProviderStripe = "stripe"
	PaymentProviderNone   = "none"
)

const (
	SubscriptionStatusFree      = "free"
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is the single logical entitlement row per user. Reconciling a
// new payment overwrites the fields in place; history lives in PaymentEvent.
//
// Status "active" with a nil EndDate means the provider manages the cadence
// and its status is authoritative. A past EndDate counts as expired at read
// time regardless of the stored status.
type Subscription struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	UserID                  uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Tier                    string     `gorm:"type:varchar(20);not null;default:'free';index" json:"tier"`
	Status                  string     `gorm:"type:varchar(20);not null;default:'free';index" json:"status"`
	EndDate                 *time.Time `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	Provider                string     `gorm:"type:varchar(20);not null;default:'none'" json:"provider"`
	ProviderCustomerRef     string     `gorm:"type:varchar(191);not null;default:''" json:"provider_customer_ref"`
	ProviderSubscriptionRef string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_ref"`
	ProviderTransactionRef  string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_transaction_ref"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
