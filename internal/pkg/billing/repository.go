package billing

import (
	"errors"
	"time"

	"github.com/mkang-dev/ToonGate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Every grant
// write is a single atomic statement conditioned on the provider transaction
// reference, so racing redirect and webhook deliveries cannot double-grant or
// interleave into a half-written row.
type Repository interface {
	GetSubscriptionByUser(userID uint) (*models.Subscription, error)
	// UpsertSubscriptionGrant writes the user's single subscription row.
	// Returns changed=false when the row already carries the same provider
	// transaction reference (duplicate delivery); the stored row is returned
	// either way.
	UpsertSubscriptionGrant(sub *models.Subscription) (bool, *models.Subscription, error)

	GetDayPassBySession(sessionID string) (*models.AnonymousDayPass, error)
	// UpsertDayPassGrant mirrors UpsertSubscriptionGrant for anonymous
	// sessions, keyed by session id and conditioned on the transaction ref.
	UpsertDayPassGrant(pass *models.AnonymousDayPass) (bool, *models.AnonymousDayPass, error)

	CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	MarkPaymentEventProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscriptionGrant(sub *models.Subscription) (bool, *models.Subscription, error) {
	// Insert path: first grant for this user.
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	changed := tx.RowsAffected > 0

	if !changed {
		// Update path: overwrite the existing row unless this transaction
		// reference was already applied. One conditional statement keeps the
		// read-modify-write invisible to concurrent callers.
		res := r.db.Model(&models.Subscription{}).
			Where("user_id = ? AND provider_transaction_ref <> ?", sub.UserID, sub.ProviderTransactionRef).
			Updates(map[string]interface{}{
				"tier":                      sub.Tier,
				"status":                    sub.Status,
				"end_date":                  sub.EndDate,
				"provider":                  sub.Provider,
				"provider_customer_ref":     sub.ProviderCustomerRef,
				"provider_subscription_ref": sub.ProviderSubscriptionRef,
				"provider_transaction_ref":  sub.ProviderTransactionRef,
			})
		if res.Error != nil {
			return false, nil, res.Error
		}
		changed = res.RowsAffected > 0
	}

	var stored models.Subscription
	if err := r.db.Where("user_id = ?", sub.UserID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return changed, &stored, nil
}

func (r *gormRepository) GetDayPassBySession(sessionID string) (*models.AnonymousDayPass, error) {
	var pass models.AnonymousDayPass
	err := r.db.Where("session_id = ?", sessionID).First(&pass).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

func (r *gormRepository) UpsertDayPassGrant(pass *models.AnonymousDayPass) (bool, *models.AnonymousDayPass, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoNothing: true,
	}).Create(pass)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	changed := tx.RowsAffected > 0

	if !changed {
		res := r.db.Model(&models.AnonymousDayPass{}).
			Where("session_id = ? AND transaction_ref <> ?", pass.SessionID, pass.TransactionRef).
			Updates(map[string]interface{}{
				"provider":        pass.Provider,
				"transaction_ref": pass.TransactionRef,
				"created_at":      pass.CreatedAt,
				"expires_at":      pass.ExpiresAt,
			})
		if res.Error != nil {
			return false, nil, res.Error
		}
		changed = res.RowsAffected > 0
	}

	var stored models.AnonymousDayPass
	if err := r.db.Where("session_id = ?", pass.SessionID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return changed, &stored, nil
}

func (r *gormRepository) CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkPaymentEventProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}
