package store

import (
	"context"
	"errors"
	"fmt"

	"dripline/models"
	"dripline/sequence"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStore keeps recipients and their send history in a relational database
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Migrate creates or updates the recipients and send_records tables
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(
		&models.Recipient{},
		&models.SendRecord{},
	)
}

// Get loads a recipient with its history in insertion order
func (s *GormStore) Get(ctx context.Context, id string) (*models.Recipient, error) {
	var recipient models.Recipient
	err := s.DB.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		First(&recipient, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", sequence.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch recipient: %w", err)
	}
	return &recipient, nil
}

// Update applies the patch only if the stored version still matches.
// The status change and the history append commit together or not at all.
func (s *GormStore) Update(ctx context.Context, id string, patch models.RecipientPatch) (*models.Recipient, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"version": gorm.Expr("version + ?", 1),
		}
		if patch.SequenceStatus != nil {
			updates["sequence_status"] = string(*patch.SequenceStatus)
		}
		if patch.StepIndex != nil {
			updates["step_index"] = *patch.StepIndex
		}
		if patch.LastContactedAt != nil {
			updates["last_contacted_at"] = *patch.LastContactedAt
		}

		res := tx.Model(&models.Recipient{}).
			Where("id = ? AND version = ?", id, patch.ExpectedVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update recipient: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Recipient{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check recipient: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("%w: %s", sequence.ErrNotFound, id)
			}
			return sequence.ErrConflict
		}

		if patch.Append != nil {
			record := *patch.Append
			record.RecipientID = id
			if record.ID == "" {
				record.ID = uuid.NewString()
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to append send record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// Create inserts a new recipient. Status defaults to inactive.
func (s *GormStore) Create(ctx context.Context, recipient *models.Recipient) error {
	if recipient.ID == "" {
		recipient.ID = uuid.NewString()
	}
	if recipient.SequenceStatus == models.StatusUnset {
		recipient.SequenceStatus = models.StatusInactive
	}
	if err := s.DB.WithContext(ctx).Omit("History").Create(recipient).Error; err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	return nil
}

// List returns a page of recipients without history, newest first
func (s *GormStore) List(ctx context.Context, limit, offset int) ([]models.Recipient, int64, error) {
	var (
		recipients []models.Recipient
		total      int64
	)

	db := s.DB.WithContext(ctx)
	if err := db.Model(&models.Recipient{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&recipients).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, total, nil
}
