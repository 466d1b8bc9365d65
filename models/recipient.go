package models

import (
	"time"
)

// SequenceStatus is the drip-sequence state of a recipient
type SequenceStatus string

const (
	StatusUnset     SequenceStatus = ""
	StatusInactive  SequenceStatus = "inactive"
	StatusActive    SequenceStatus = "active"
	StatusPaused    SequenceStatus = "paused"
	StatusCompleted SequenceStatus = "completed"
)

// SendStatus mirrors the transport outcome of a single send
type SendStatus string

const (
	SendStatusSent   SendStatus = "sent"
	SendStatusFailed SendStatus = "failed"
)

// ManualTemplateKey marks ad-hoc emails logged next to sequence steps
const ManualTemplateKey = "manual"

// Recipient is a lead enrolled (or enrollable) in the drip sequence
type Recipient struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ContactAddress string         `gorm:"index" json:"contact_address"`
	Name           string         `json:"name"`
	Company        string         `json:"company"`
	SequenceStatus SequenceStatus `gorm:"type:varchar(16);default:'inactive'" json:"sequence_status"`

	// StepIndex counts sequence-flagged records and moves with every history append
	StepIndex int `gorm:"not null;default:0" json:"step_index"`
	Version   int `gorm:"not null;default:0" json:"-"`

	LastContactedAt *time.Time `json:"last_contacted_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Relations
	History []SendRecord `gorm:"foreignKey:RecipientID" json:"history"`
}

// SendRecord is one attempted delivery. Records are never updated after creation.
type SendRecord struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	RecipientID       string     `gorm:"type:varchar(36);not null;index" json:"recipient_id"`
	Seq               int        `gorm:"not null;default:0" json:"-"`
	TemplateKey       string     `gorm:"not null" json:"template_key"`
	StepIndex         int        `gorm:"not null;default:0" json:"step_index"`
	Status            SendStatus `gorm:"type:varchar(16);not null" json:"status"`
	ProviderMessageID *string    `json:"provider_message_id"`
	IdempotencyKey    string     `gorm:"uniqueIndex" json:"idempotency_key"`
	Error             string     `gorm:"type:text" json:"error,omitempty"`
	IsSequenceStep    bool       `gorm:"not null;default:false" json:"is_sequence_step"`
	SentAt            time.Time  `gorm:"not null" json:"sent_at"`
	CreatedAt         time.Time  `json:"-"`
}

// RecipientPatch is a partial update applied under a version check.
// Nil fields are left untouched.
type RecipientPatch struct {
	ExpectedVersion int
	SequenceStatus  *SequenceStatus
	StepIndex       *int
	LastContactedAt *time.Time
	Append          *SendRecord
}

// SequenceRecords returns the sequence-flagged subset of the history in insertion order
func (r *Recipient) SequenceRecords() []SendRecord {
	records := make([]SendRecord, 0, len(r.History))
	for _, rec := range r.History {
		if rec.IsSequenceStep {
			records = append(records, rec)
		}
	}
	return records
}

// SentSteps is the number of sequence steps already emitted.
// Rows written before the counter existed carry zero, so fall back to the history.
func (r *Recipient) SentSteps() int {
	if r.StepIndex > 0 {
		return r.StepIndex
	}
	return len(r.SequenceRecords())
}

// Clone returns a deep copy, history included
func (r *Recipient) Clone() *Recipient {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastContactedAt != nil {
		t := *r.LastContactedAt
		out.LastContactedAt = &t
	}
	out.History = make([]SendRecord, len(r.History))
	for i, rec := range r.History {
		out.History[i] = rec.clone()
	}
	return &out
}

func (s SendRecord) clone() SendRecord {
	if s.ProviderMessageID != nil {
		id := *s.ProviderMessageID
		s.ProviderMessageID = &id
	}
	return s
}
