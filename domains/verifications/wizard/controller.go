package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
	"github.com/zenGate-Global/permitdesk/platform/go/metrics"
)

const (
	// DefaultAutosaveDelay is the quiet period after the last edit before a draft is saved.
	DefaultAutosaveDelay = 2 * time.Second

	autosaveTimeout = 30 * time.Second
)

var ErrNoAttempt = errors.New("no verification attempt in progress")

// Options configures a Controller. Zero values select defaults.
type Options struct {
	Clock         clockwork.Clock
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	AutosaveDelay time.Duration
}

// Controller owns a Session and persists it through a Backend. Edits schedule a
// single debounced autosave; each further edit postpones it.
type Controller struct {
	backend Backend
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	delay   time.Duration

	// writes serializes backend calls so saves never race on the attempt version.
	writes sync.Mutex

	mu      sync.Mutex
	session Session
	saved   Session
	gen     uint64
	timer   clockwork.Timer
	stopped bool
}

func NewController(backend Backend, session Session, opts Options) *Controller {
	if backend == nil {
		panic("wizard backend is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = DefaultAutosaveDelay
	}

	return &Controller{
		backend: backend,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		delay:   opts.AutosaveDelay,
		session: session,
		saved:   session,
	}
}

// Session returns the current state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) NextStep() Session {
	s, _ := c.apply(func(s Session) (Session, error) { return s.NextStep(), nil })
	return s
}

func (c *Controller) PrevStep() Session {
	s, _ := c.apply(func(s Session) (Session, error) { return s.PrevStep(), nil })
	return s
}

func (c *Controller) GoToStep(step model.Step) (Session, error) {
	return c.apply(func(s Session) (Session, error) { return s.GoToStep(step) })
}

func (c *Controller) SetSection(name model.SectionName, status model.SectionStatus, notes *string) (Session, error) {
	at := c.clock.Now()
	return c.apply(func(s Session) (Session, error) { return s.SetSection(name, status, notes, at) })
}

func (c *Controller) apply(fn func(Session) (Session, error)) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Closed {
		return c.session, ErrClosed
	}
	next, err := fn(c.session)
	if err != nil {
		return c.session, err
	}
	if next == c.session {
		return next, nil
	}

	c.session = next
	c.gen++
	c.scheduleLocked()
	return next, nil
}

func (c *Controller) scheduleLocked() {
	if c.stopped || !c.session.Dirty || !c.session.HasAttempt() {
		return
	}
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.delay, func() { c.autosave(gen) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) autosave(gen uint64) {
	c.mu.Lock()
	stale := gen != c.gen || c.stopped
	attemptID := c.session.AttemptID
	c.mu.Unlock()
	if stale {
		c.metrics.IncWizardAutosave("skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
	defer cancel()

	// Failures stay silent and leave the session dirty for the next edit or save.
	err := c.save(ctx)
	if errors.Is(err, ErrStaleVersion) {
		// The rebased session re-arms the timer, which retries at the new version.
		_, err = c.Refresh(ctx)
	}
	if err != nil {
		c.logger.Warn("wizard autosave failed",
			zap.String("verificationId", attemptID.String()),
			zap.Error(err),
		)
	}
}

// Save persists the draft now. It is a no-op when nothing changed since the last
// confirmed save.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	return c.save(ctx)
}

func (c *Controller) save(ctx context.Context) error {
	c.writes.Lock()
	defer c.writes.Unlock()

	c.mu.Lock()
	snapshot, gen := c.session, c.gen
	c.mu.Unlock()

	if !snapshot.Dirty {
		c.metrics.IncWizardAutosave("skipped")
		return nil
	}
	if !snapshot.HasAttempt() {
		return ErrNoAttempt
	}
	if snapshot.Closed {
		return ErrClosed
	}

	attempt, err := c.backend.SaveDraft(ctx, snapshot.AttemptID, snapshot.Draft(), snapshot.Version)
	if err != nil {
		c.metrics.IncWizardAutosave("failed")
		return err
	}
	c.metrics.IncWizardAutosave("saved")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.AttemptID != snapshot.AttemptID {
		return nil
	}
	c.session = c.session.saved(attempt.Version, c.gen == gen)
	c.saved = snapshot.saved(attempt.Version, true)
	return nil
}

// Create opens a verification attempt for the session's owner. It fails with
// ErrAttemptOpen when the session already tracks an open attempt and surfaces the
// backend's error when the server holds one.
func (c *Controller) Create(ctx context.Context) (Session, error) {
	c.writes.Lock()
	defer c.writes.Unlock()

	c.mu.Lock()
	base, gen := c.session, c.gen
	c.mu.Unlock()

	if base.HasAttempt() && !base.Closed {
		return base, ErrAttemptOpen
	}
	if base.Closed {
		base = NewSession(base.OwnerID)
	}

	attempt, err := c.backend.CreateVerification(ctx, base.OwnerID, base.Draft())
	if err != nil {
		return base, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.session
	if current.Closed || c.gen == gen {
		current = base
	}
	// The server opens every attempt with its own sections; only the step comes
	// from the draft.
	saved := base.attached(attempt)
	saved.Sections = attempt.Sections
	next := current.attached(attempt)
	next.Dirty = !next.Sections.Equal(saved.Sections) || next.Step != saved.Step
	c.session = next
	c.saved = saved
	c.gen++
	c.scheduleLocked()
	return next, nil
}

// Refresh re-reads the attempt and rebases unsaved local edits onto the server
// version. Use it after ErrStaleVersion; autosave does so on its own.
func (c *Controller) Refresh(ctx context.Context) (Session, error) {
	c.writes.Lock()
	defer c.writes.Unlock()

	c.mu.Lock()
	attemptID := c.session.AttemptID
	c.mu.Unlock()
	if attemptID == uuid.Nil {
		return c.Session(), ErrNoAttempt
	}

	attempt, err := c.backend.GetAttempt(ctx, attemptID)
	if err != nil {
		return c.Session(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.AttemptID != attemptID {
		return c.session, nil
	}

	server := ResumeSession(attempt)
	if attempt.Draft == nil && !server.Closed {
		server.Step = c.saved.Step
	}
	c.session = c.session.rebased(c.saved, server)
	c.saved = server
	c.gen++
	if c.session.Closed {
		c.stopTimerLocked()
	} else {
		c.scheduleLocked()
	}
	c.logger.Info("wizard session rebased",
		zap.String("verificationId", attemptID.String()),
		zap.Int64("version", attempt.Version),
		zap.Bool("dirty", c.session.Dirty),
	)
	return c.session, nil
}

// Submit flushes any pending draft and then closes the attempt.
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	if err := c.Save(ctx); err != nil {
		return Outcome{}, fmt.Errorf("flush draft: %w", err)
	}

	c.writes.Lock()
	defer c.writes.Unlock()

	c.mu.Lock()
	snapshot := c.session
	c.mu.Unlock()

	switch {
	case !snapshot.HasAttempt():
		return Outcome{}, ErrNoAttempt
	case snapshot.Closed:
		return Outcome{}, ErrClosed
	}
	if pending := snapshot.Sections.Pending(); len(pending) > 0 {
		return Outcome{}, fmt.Errorf("%w: %v", ErrIncomplete, pending)
	}

	outcome, err := c.backend.Submit(ctx, snapshot.AttemptID, snapshot.Version)
	if err != nil {
		return Outcome{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.session = c.session.closed(outcome.Attempt)
	c.saved = c.session
	c.gen++
	return outcome, nil
}

// Cancel discards unsaved local edits. The persisted attempt is left untouched and
// an autosave already sent to the server completes normally.
func (c *Controller) Cancel() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.session = c.saved
	c.gen++
	return c.session
}

// Close stops the autosave timer. Pending edits are not saved.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.stopped = true
}
