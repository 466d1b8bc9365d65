package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dripline/metrics"
	"dripline/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Action is a caller-issued sequence command
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionSkip   Action = "skip"
)

// Store is the persistence the sequencer needs. Implementations return ErrNotFound
// for unknown ids and ErrConflict when ExpectedVersion no longer matches.
type Store interface {
	Get(ctx context.Context, id string) (*models.Recipient, error)
	Update(ctx context.Context, id string, patch models.RecipientPatch) (*models.Recipient, error)
}

// Transport delivers one message. A non-nil error and Success=false are both
// recorded as a failed send.
type Transport interface {
	Send(ctx context.Context, msg models.Message) (models.Delivery, error)
}

// ErrConflict is returned by a Store when the record changed since it was read
var ErrConflict = errors.New("recipient was modified concurrently")

// Result is returned by every state-changing action
type Result struct {
	Recipient *models.Recipient  `json:"recipient"`
	EmailSent bool               `json:"emailSent"`
	Record    *models.SendRecord `json:"record,omitempty"`
}

// Status is the read-only view of a recipient's progress
type Status struct {
	Status      models.SequenceStatus `json:"status"`
	CurrentStep int                   `json:"currentStep"`
	TotalSteps  int                   `json:"totalSteps"`
	SentEmails  []models.SendRecord   `json:"sentEmails"`
}

// Sequencer advances recipients through the catalog. All state changes for a
// recipient run under its lock.
type Sequencer struct {
	store       Store
	transport   Transport
	catalog     *Catalog
	locker      Locker
	logger      logrus.FieldLogger
	metrics     *metrics.Metrics
	now         func() time.Time
	sendTimeout time.Duration
	lockTimeout time.Duration
	fromEmail   string
	fromName    string
}

type Option func(*Sequencer)

func WithCatalog(c *Catalog) Option {
	return func(s *Sequencer) { s.catalog = c }
}

func WithLocker(l Locker) Option {
	return func(s *Sequencer) { s.locker = l }
}

// WithSendTimeout bounds every transport call; a timeout is recorded as a failed send
func WithSendTimeout(d time.Duration) Option {
	return func(s *Sequencer) { s.sendTimeout = d }
}

// WithLockTimeout bounds the wait for the per-recipient lock
func WithLockTimeout(d time.Duration) Option {
	return func(s *Sequencer) { s.lockTimeout = d }
}

func WithSender(fromEmail, fromName string) Option {
	return func(s *Sequencer) {
		s.fromEmail = fromEmail
		s.fromName = fromName
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Sequencer) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// New builds a Sequencer over the given store and transport
func New(store Store, transport Transport, opts ...Option) *Sequencer {
	s := &Sequencer{
		store:       store,
		transport:   transport,
		catalog:     DefaultCatalog,
		locker:      NewKeyedMutex(),
		logger:      logrus.StandardLogger(),
		now:         time.Now,
		sendTimeout: 15 * time.Second,
		lockTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog in use
func (s *Sequencer) Catalog() *Catalog {
	return s.catalog
}

// IdempotencyKey identifies one sequence step of one recipient
func IdempotencyKey(recipientID string, stepIndex int) string {
	return fmt.Sprintf("%s:%d", recipientID, stepIndex)
}

// Do dispatches an action by name
func (s *Sequencer) Do(ctx context.Context, id, action string) (*Result, error) {
	switch Action(action) {
	case ActionStart:
		return s.Start(ctx, id)
	case ActionPause:
		return s.Pause(ctx, id)
	case ActionResume:
		return s.Resume(ctx, id)
	case ActionSkip:
		return s.Skip(ctx, id)
	default:
		s.metrics.RecordAction("unknown", "invalid_action")
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// Start sends the first catalog step and activates the sequence
func (s *Sequencer) Start(ctx context.Context, id string) (*Result, error) {
	return s.withRecipient(ctx, id, ActionStart, func(r *models.Recipient) (*Result, error) {
		if r.ContactAddress == "" {
			return nil, ErrMissingContact
		}
		if current := effectiveStatus(r); current != models.StatusInactive {
			return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidState, current)
		}
		return s.sendStep(ctx, r, 1, models.StatusActive)
	})
}

// Pause stops an active sequence without touching history
func (s *Sequencer) Pause(ctx context.Context, id string) (*Result, error) {
	return s.withRecipient(ctx, id, ActionPause, func(r *models.Recipient) (*Result, error) {
		return s.flip(ctx, r, models.StatusActive, models.StatusPaused)
	})
}

// Resume reactivates a paused sequence without touching history
func (s *Sequencer) Resume(ctx context.Context, id string) (*Result, error) {
	return s.withRecipient(ctx, id, ActionResume, func(r *models.Recipient) (*Result, error) {
		return s.flip(ctx, r, models.StatusPaused, models.StatusActive)
	})
}

// Skip sends the next catalog step. It is allowed while paused and leaves the
// status as it was unless the catalog is now exhausted.
func (s *Sequencer) Skip(ctx context.Context, id string) (*Result, error) {
	return s.withRecipient(ctx, id, ActionSkip, func(r *models.Recipient) (*Result, error) {
		current := effectiveStatus(r)
		switch current {
		case models.StatusCompleted:
			return nil, ErrSequenceComplete
		case models.StatusActive, models.StatusPaused:
		default:
			return nil, fmt.Errorf("%w: cannot skip from %s", ErrInvalidState, current)
		}

		next := r.SentSteps() + 1
		if next > s.catalog.Len() {
			return nil, ErrSequenceComplete
		}
		if r.ContactAddress == "" {
			return nil, ErrMissingContact
		}
		return s.sendStep(ctx, r, next, current)
	})
}

// SendManual logs an ad-hoc email in the recipient's history. It never counts
// toward step progression and never changes the sequence status.
func (s *Sequencer) SendManual(ctx context.Context, id, subject, html string) (*Result, error) {
	return s.withRecipient(ctx, id, "manual", func(r *models.Recipient) (*Result, error) {
		if r.ContactAddress == "" {
			return nil, ErrMissingContact
		}

		recordID := uuid.NewString()
		delivery, err := s.deliver(ctx, models.ManualTemplateKey, models.Message{
			FromName:       s.fromName,
			From:           s.fromEmail,
			To:             r.ContactAddress,
			Subject:        subject,
			HTML:           html,
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", r.ID, models.ManualTemplateKey, recordID),
		})

		now := s.now()
		record := s.newRecord(r, recordID, models.ManualTemplateKey, 0, false, delivery, err, now)
		record.IdempotencyKey = fmt.Sprintf("%s:%s:%s", r.ID, models.ManualTemplateKey, recordID)

		return s.persist(ctx, r, models.RecipientPatch{
			ExpectedVersion: r.Version,
			LastContactedAt: &now,
			Append:          &record,
		}, &record)
	})
}

// Status reconstructs progress from the stored record without mutating it
func (s *Sequencer) Status(ctx context.Context, id string) (*Status, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sent := r.SequenceRecords()
	current := r.StepIndex
	if current == 0 {
		current = len(sent)
	}

	return &Status{
		Status:      effectiveStatus(r),
		CurrentStep: current,
		TotalSteps:  s.catalog.Len(),
		SentEmails:  sent,
	}, nil
}

// effectiveStatus treats an unset status as active once any sequence step exists
func effectiveStatus(r *models.Recipient) models.SequenceStatus {
	if r.SequenceStatus != models.StatusUnset {
		return r.SequenceStatus
	}
	if r.SentSteps() > 0 {
		return models.StatusActive
	}
	return models.StatusInactive
}

func (s *Sequencer) flip(ctx context.Context, r *models.Recipient, from, to models.SequenceStatus) (*Result, error) {
	if current := effectiveStatus(r); current != from {
		return nil, fmt.Errorf("%w: expected %s, recipient is %s", ErrInvalidState, from, current)
	}
	return s.persist(ctx, r, models.RecipientPatch{
		ExpectedVersion: r.Version,
		SequenceStatus:  &to,
	}, nil)
}

// sendStep emits the catalog step and records it whatever the transport outcome.
// keep is the status to leave in place when the step is not the last one.
func (s *Sequencer) sendStep(ctx context.Context, r *models.Recipient, step int, keep models.SequenceStatus) (*Result, error) {
	rendered, err := s.catalog.Render(step, r)
	if err != nil {
		return nil, fmt.Errorf("failed to render step %d: %w", step, err)
	}

	key := IdempotencyKey(r.ID, step)
	delivery, sendErr := s.deliver(ctx, rendered.Key, models.Message{
		FromName:       s.fromName,
		From:           s.fromEmail,
		To:             r.ContactAddress,
		Subject:        rendered.Subject,
		HTML:           rendered.HTML,
		IdempotencyKey: key,
	})

	now := s.now()
	record := s.newRecord(r, uuid.NewString(), rendered.Key, step, true, delivery, sendErr, now)
	record.IdempotencyKey = key

	status := keep
	if step == s.catalog.Len() {
		status = models.StatusCompleted
	}

	return s.persist(ctx, r, models.RecipientPatch{
		ExpectedVersion: r.Version,
		SequenceStatus:  &status,
		StepIndex:       &step,
		LastContactedAt: &now,
		Append:          &record,
	}, &record)
}

// deliver calls the transport under the send timeout. A transport that ignores
// its context is abandoned once the deadline passes.
func (s *Sequencer) deliver(ctx context.Context, templateKey string, msg models.Message) (models.Delivery, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	type outcome struct {
		delivery models.Delivery
		err      error
	}
	done := make(chan outcome, 1)
	started := time.Now()

	go func() {
		d, err := s.transport.Send(sendCtx, msg)
		done <- outcome{delivery: d, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-sendCtx.Done():
		out = outcome{err: fmt.Errorf("transport timed out: %w", sendCtx.Err())}
	}

	status := models.SendStatusSent
	if out.err != nil || !out.delivery.Success {
		status = models.SendStatusFailed
	}
	s.metrics.RecordSend(templateKey, string(status), time.Since(started))

	if out.err != nil {
		s.logger.WithFields(logrus.Fields{
			"to":              msg.To,
			"template_key":    templateKey,
			"idempotency_key": msg.IdempotencyKey,
		}).WithError(out.err).Warn("transport send failed")
	}
	return out.delivery, out.err
}

func (s *Sequencer) newRecord(r *models.Recipient, id, templateKey string, step int, isStep bool, d models.Delivery, sendErr error, at time.Time) models.SendRecord {
	record := models.SendRecord{
		ID:             id,
		RecipientID:    r.ID,
		Seq:            len(r.History) + 1,
		TemplateKey:    templateKey,
		StepIndex:      step,
		Status:         models.SendStatusFailed,
		IsSequenceStep: isStep,
		SentAt:         at,
	}

	switch {
	case sendErr != nil:
		record.Error = sendErr.Error()
	case !d.Success:
		record.Error = "provider rejected message"
	default:
		record.Status = models.SendStatusSent
		if d.ProviderMessageID != "" {
			providerID := d.ProviderMessageID
			record.ProviderMessageID = &providerID
		}
	}
	return record
}

func (s *Sequencer) persist(ctx context.Context, r *models.Recipient, patch models.RecipientPatch, record *models.SendRecord) (*Result, error) {
	updated, err := s.store.Update(ctx, r.ID, patch)
	if err != nil {
		entry := s.logger.WithField("recipient_id", r.ID).WithError(err)
		if record != nil {
			entry = entry.WithFields(logrus.Fields{
				"step_index":      record.StepIndex,
				"idempotency_key": record.IdempotencyKey,
				"send_status":     record.Status,
			})
		}
		entry.Error("failed to persist recipient update")
		return nil, fmt.Errorf("failed to update recipient %s: %w", r.ID, err)
	}

	res := &Result{Recipient: updated, Record: record}
	if record != nil {
		res.EmailSent = record.Status == models.SendStatusSent
	}
	return res, nil
}

func (s *Sequencer) withRecipient(ctx context.Context, id string, action Action, fn func(r *models.Recipient) (*Result, error)) (*Result, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	waitStarted := time.Now()
	unlock, err := s.locker.Lock(lockCtx, id)
	cancel()
	s.metrics.RecordLockWait(time.Since(waitStarted))
	if err != nil {
		s.metrics.RecordAction(string(action), "busy")
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.RecordAction(string(action), outcomeLabel(err))
		return nil, err
	}

	res, err := fn(r)
	s.metrics.RecordAction(string(action), outcomeLabel(err))

	entry := s.logger.WithFields(logrus.Fields{
		"recipient_id": id,
		"action":       action,
	})
	if err != nil {
		entry.WithError(err).Info("sequence action rejected")
		return nil, err
	}
	if res.Record != nil {
		entry = entry.WithFields(logrus.Fields{
			"step_index":   res.Record.StepIndex,
			"template_key": res.Record.TemplateKey,
			"email_sent":   res.EmailSent,
		})
	}
	entry.WithField("status", res.Recipient.SequenceStatus).Info("sequence action applied")
	return res, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMissingContact):
		return "missing_contact"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrSequenceComplete):
		return "sequence_complete"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
