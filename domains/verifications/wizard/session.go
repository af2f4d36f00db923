// Package wizard drives an operator through the verification steps and keeps
// the in-progress draft saved on the server.
package wizard

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/permitdesk/domains/verifications/model"
)

var (
	ErrUnknownStep    = errors.New("unknown wizard step")
	ErrUnknownSection = errors.New("unknown verification section")
	ErrUnknownStatus  = errors.New("unknown section status")
)

// Session is the wizard state for one business owner. Transitions return a new
// Session and never modify the receiver.
type Session struct {
	OwnerID   uuid.UUID
	AttemptID uuid.UUID
	Version   int64
	Step      model.Step
	Sections  model.Sections
	Dirty     bool
	Closed    bool
}

// NewSession starts at the welcome step with every section incomplete.
func NewSession(ownerID uuid.UUID) Session {
	return Session{
		OwnerID:  ownerID,
		Step:     model.StepWelcome,
		Sections: model.NewSections(),
	}
}

// ResumeSession rebuilds a session from a persisted open attempt. The draft, when
// present, restores the step the operator was on.
func ResumeSession(attempt Attempt) Session {
	s := Session{
		OwnerID:   attempt.OwnerID,
		AttemptID: attempt.ID,
		Version:   attempt.Version,
		Step:      model.StepWelcome,
		Sections:  attempt.Sections,
		Closed:    attempt.CompletedAt != nil,
	}
	if attempt.Draft != nil && attempt.Draft.CurrentStep.Index() >= 0 {
		s.Step = attempt.Draft.CurrentStep
	}
	if s.Closed {
		s.Step = model.StepComplete
	}
	return s
}

// HasAttempt reports whether the session is bound to a persisted attempt.
func (s Session) HasAttempt() bool {
	return s.AttemptID != uuid.Nil
}

// NextStep advances one step and stays at complete.
func (s Session) NextStep() Session {
	return s.moveTo(s.Step.Index() + 1)
}

// PrevStep goes back one step and stays at welcome.
func (s Session) PrevStep() Session {
	return s.moveTo(s.Step.Index() - 1)
}

func (s Session) moveTo(idx int) Session {
	idx = max(0, min(idx, len(model.Steps)-1))
	if model.Steps[idx] == s.Step {
		return s
	}
	s.Step = model.Steps[idx]
	s.Dirty = true
	return s
}

// GoToStep jumps to any step. The result is always dirty.
func (s Session) GoToStep(step model.Step) (Session, error) {
	if step.Index() < 0 {
		return s, ErrUnknownStep
	}
	s.Step = step
	s.Dirty = true
	return s, nil
}

// SetSection records a section status locally. A nil notes keeps the existing notes.
func (s Session) SetSection(name model.SectionName, status model.SectionStatus, notes *string, at time.Time) (Session, error) {
	if _, ok := model.ParseSectionName(string(name)); !ok {
		return s, ErrUnknownSection
	}
	if !status.Valid() {
		return s, ErrUnknownStatus
	}

	section := s.Sections.Get(name)
	section.Status = status
	if notes != nil {
		n := *notes
		section.Notes = &n
	}
	at = at.UTC()
	section.LastUpdated = &at

	s.Sections = s.Sections.With(name, section)
	s.Dirty = true
	return s, nil
}

// Draft is the payload persisted as the attempt's draftData.
func (s Session) Draft() model.Draft {
	return model.Draft{CurrentStep: s.Step, Sections: s.Sections}
}

// attached binds the session to a freshly created attempt.
func (s Session) attached(attempt Attempt) Session {
	s.AttemptID = attempt.ID
	s.Version = attempt.Version
	s.Dirty = false
	return s
}

// saved records a confirmed save. clean is false when edits arrived while the
// save was in flight.
func (s Session) saved(version int64, clean bool) Session {
	s.Version = version
	if clean {
		s.Dirty = false
	}
	return s
}

// rebased replays the edits s made since base on top of server. Where both sides
// changed a section the local edit wins.
func (s Session) rebased(base, server Session) Session {
	if server.Closed {
		return server
	}
	next := server
	for _, name := range model.SectionNames {
		if local := s.Sections.Get(name); !local.Equal(base.Sections.Get(name)) {
			next.Sections = next.Sections.With(name, local)
		}
	}
	if s.Step != base.Step {
		next.Step = s.Step
	}
	next.Dirty = !next.Sections.Equal(server.Sections) || next.Step != server.Step
	return next
}

// closed records a successful submission.
func (s Session) closed(attempt Attempt) Session {
	s.Version = attempt.Version
	s.Sections = attempt.Sections
	s.Step = model.StepComplete
	s.Dirty = false
	s.Closed = true
	return s
}
