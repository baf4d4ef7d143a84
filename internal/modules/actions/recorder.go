package actions

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/aristath/lessons/internal/domain"
	"github.com/aristath/lessons/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventEmitter publishes recorder events
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// Observer receives recorder metrics
type Observer interface {
	ObserveRecord(category string, err error)
	ObserveResolve(err error)
}

// RecordRequest is the raw input of Record. Validation happens in Record.
type RecordRequest struct {
	EventID    string             `json:"event_id,omitempty"` // optional, generated when empty
	Book       string             `json:"book,omitempty"`
	PatternKey string             `json:"pattern_key"`
	Category   string             `json:"action_category"`
	Scope      map[string]string  `json:"scope"`
	Controls   map[string]float64 `json:"controls"`
}

// Recorder is the append path for action events.
// It never waits on the miner: each call is one statement on the WAL database.
type Recorder struct {
	repo     *Repository
	emitter  EventEmitter
	observer Observer
	now      func() time.Time
	log      zerolog.Logger
}

// NewRecorder creates a recorder over the given repository
func NewRecorder(repo *Repository, log zerolog.Logger) *Recorder {
	return &Recorder{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
		log:  log.With().Str("service", "recorder").Logger(),
	}
}

// SetEventEmitter wires event publication
func (r *Recorder) SetEventEmitter(emitter EventEmitter) {
	r.emitter = emitter
}

// SetObserver wires metrics
func (r *Recorder) SetObserver(observer Observer) {
	r.observer = observer
}

// SetClock replaces the wall clock, for tests
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record validates and appends one action event, returning its id
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (string, error) {
	e, err := r.buildEvent(req)
	if err == nil {
		err = r.repo.Insert(ctx, e)
	}

	if r.observer != nil {
		r.observer.ObserveRecord(strings.ToLower(strings.TrimSpace(req.Category)), err)
	}
	if err != nil {
		return "", err
	}

	r.log.Debug().
		Str("event_id", e.EventID).
		Str("pattern_key", string(e.PatternKey)).
		Str("category", string(e.Category)).
		Msg("Action recorded")

	return e.EventID, nil
}

func (r *Recorder) buildEvent(req RecordRequest) (*domain.ActionEvent, error) {
	patternKey, err := domain.ParsePatternKey(req.PatternKey)
	if err != nil {
		return nil, err
	}
	category, err := domain.ParseActionCategory(req.Category)
	if err != nil {
		return nil, err
	}
	scope, err := domain.ParseScope(req.Scope)
	if err != nil {
		return nil, err
	}
	controls := domain.Controls(req.Controls)
	if err := controls.Validate(); err != nil {
		return nil, err
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	return &domain.ActionEvent{
		EventID:    eventID,
		Book:       domain.NormalizeBook(req.Book),
		PatternKey: patternKey,
		Category:   category,
		Scope:      scope,
		Controls:   controls,
		CreatedAt:  r.now(),
	}, nil
}

// ResolveOutcome attaches the realized return of an action
func (r *Recorder) ResolveOutcome(ctx context.Context, eventID string, realized float64) error {
	err := r.resolve(ctx, eventID, realized)
	if r.observer != nil {
		r.observer.ObserveResolve(err)
	}
	return err
}

func (r *Recorder) resolve(ctx context.Context, eventID string, realized float64) error {
	if math.IsNaN(realized) || math.IsInf(realized, 0) {
		return domain.NewValidationError("outcome", "must be a finite number")
	}
	if strings.TrimSpace(eventID) == "" {
		return domain.NewValidationError("event_id", "must not be empty")
	}

	if err := r.repo.ResolveOutcome(ctx, eventID, realized, r.now()); err != nil {
		return err
	}

	if r.emitter != nil {
		data := &events.OutcomeResolvedData{EventID: eventID, Outcome: realized}
		if e, err := r.repo.GetByID(ctx, eventID); err == nil {
			data.Book = e.Book
			data.PatternKey = string(e.PatternKey)
			data.Category = string(e.Category)
		}
		r.emitter.EmitTyped(events.OutcomeResolved, "actions", data)
	}

	return nil
}

// Get returns one event
func (r *Recorder) Get(ctx context.Context, eventID string) (*domain.ActionEvent, error) {
	return r.repo.GetByID(ctx, eventID)
}

// Count returns recorder totals
func (r *Recorder) Count(ctx context.Context, book *string) (Counts, error) {
	return r.repo.Count(ctx, book)
}
