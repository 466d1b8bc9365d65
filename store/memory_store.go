package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dripline/models"
	"dripline/sequence"

	"github.com/google/uuid"
)

// MemoryStore is a process-local store for development and tests.
// Callers always get deep copies.
type MemoryStore struct {
	mu         sync.RWMutex
	recipients map[string]*models.Recipient
	keys       map[string]bool
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recipients: make(map[string]*models.Recipient),
		keys:       make(map[string]bool),
		now:        time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.recipients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sequence.ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch models.RecipientPatch) (*models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sequence.ErrNotFound, id)
	}
	if r.Version != patch.ExpectedVersion {
		return nil, sequence.ErrConflict
	}

	if patch.Append != nil {
		record := *patch.Append
		record.RecipientID = id
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.IdempotencyKey != "" && s.keys[record.IdempotencyKey] {
			return nil, fmt.Errorf("failed to append send record: duplicate idempotency key %s", record.IdempotencyKey)
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = s.now()
		}
		if record.IdempotencyKey != "" {
			s.keys[record.IdempotencyKey] = true
		}
		r.History = append(r.History, record)
	}
	if patch.SequenceStatus != nil {
		r.SequenceStatus = *patch.SequenceStatus
	}
	if patch.StepIndex != nil {
		r.StepIndex = *patch.StepIndex
	}
	if patch.LastContactedAt != nil {
		t := *patch.LastContactedAt
		r.LastContactedAt = &t
	}
	r.Version++
	r.UpdatedAt = s.now()

	return r.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, recipient *models.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if recipient.ID == "" {
		recipient.ID = uuid.NewString()
	}
	if _, exists := s.recipients[recipient.ID]; exists {
		return fmt.Errorf("failed to create recipient: id %s already exists", recipient.ID)
	}
	if recipient.SequenceStatus == models.StatusUnset {
		recipient.SequenceStatus = models.StatusInactive
	}
	now := s.now()
	recipient.CreatedAt = now
	recipient.UpdatedAt = now

	s.recipients[recipient.ID] = recipient.Clone()
	for _, rec := range recipient.History {
		if rec.IdempotencyKey != "" {
			s.keys[rec.IdempotencyKey] = true
		}
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]models.Recipient, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.Recipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		c := r.Clone()
		c.History = nil
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []models.Recipient{}, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}
