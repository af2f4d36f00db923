// Package model holds the verification vocabulary shared by the server-side
// services and the wizard controller.
package model

import "time"

// SectionName identifies one facet of a verification attempt.
type SectionName string

const (
	SectionIdentity            SectionName = "identity"
	SectionAddress             SectionName = "address"
	SectionBusinessAffiliation SectionName = "businessAffiliation"
)

// SectionNames lists the sections in wizard order.
var SectionNames = []SectionName{SectionIdentity, SectionAddress, SectionBusinessAffiliation}

// ParseSectionName accepts the wire name of a section.
func ParseSectionName(raw string) (SectionName, bool) {
	for _, name := range SectionNames {
		if string(name) == raw {
			return name, true
		}
	}
	return "", false
}

// SectionStatus is the review state of a single section.
type SectionStatus string

const (
	SectionIncomplete SectionStatus = "INCOMPLETE"
	SectionInProgress SectionStatus = "IN_PROGRESS"
	SectionComplete   SectionStatus = "COMPLETE"
	SectionVerified   SectionStatus = "VERIFIED"
	SectionRejected   SectionStatus = "REJECTED"
	SectionNeedsInfo  SectionStatus = "NEEDS_INFO"
)

// Valid reports whether s is a known section status.
func (s SectionStatus) Valid() bool {
	switch s {
	case SectionIncomplete, SectionInProgress, SectionComplete, SectionVerified, SectionRejected, SectionNeedsInfo:
		return true
	}
	return false
}

// IsTerminal reports whether a reviewer has reached a decision on the section.
func (s SectionStatus) IsTerminal() bool {
	return s == SectionVerified || s == SectionRejected || s == SectionNeedsInfo
}

// Decision is the attempt-level outcome.
type Decision string

const (
	DecisionPending   Decision = "PENDING"
	DecisionVerified  Decision = "VERIFIED"
	DecisionRejected  Decision = "REJECTED"
	DecisionNeedsInfo Decision = "NEEDS_INFO"
)

// DocumentStatus is the reviewer decision on one linked document.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "PENDING"
	DocumentVerified  DocumentStatus = "VERIFIED"
	DocumentRejected  DocumentStatus = "REJECTED"
	DocumentNeedsInfo DocumentStatus = "NEEDS_INFO"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentVerified, DocumentRejected, DocumentNeedsInfo:
		return true
	}
	return false
}

// Section is one facet's status. Notes and LastUpdated are nil until a reviewer sets them.
type Section struct {
	Status      SectionStatus `json:"status"`
	Notes       *string       `json:"notes,omitempty"`
	LastUpdated *time.Time    `json:"lastUpdated,omitempty"`
}

// Sections is keyed by the exchanged field names identity, address and businessAffiliation.
type Sections struct {
	Identity            Section `json:"identity"`
	Address             Section `json:"address"`
	BusinessAffiliation Section `json:"businessAffiliation"`
}

// NewSections returns the initial state of a fresh attempt.
func NewSections() Sections {
	return Sections{
		Identity:            Section{Status: SectionIncomplete},
		Address:             Section{Status: SectionIncomplete},
		BusinessAffiliation: Section{Status: SectionIncomplete},
	}
}

// Get returns the named section.
func (s Sections) Get(name SectionName) Section {
	switch name {
	case SectionIdentity:
		return s.Identity
	case SectionAddress:
		return s.Address
	default:
		return s.BusinessAffiliation
	}
}

// With returns a copy of s with the named section replaced.
func (s Sections) With(name SectionName, section Section) Sections {
	switch name {
	case SectionIdentity:
		s.Identity = section
	case SectionAddress:
		s.Address = section
	case SectionBusinessAffiliation:
		s.BusinessAffiliation = section
	}
	return s
}

// Equal compares by value; notes and timestamps are compared by content, not pointer.
func (s Section) Equal(o Section) bool {
	if s.Status != o.Status {
		return false
	}
	if (s.Notes == nil) != (o.Notes == nil) || (s.Notes != nil && *s.Notes != *o.Notes) {
		return false
	}
	if (s.LastUpdated == nil) != (o.LastUpdated == nil) {
		return false
	}
	return s.LastUpdated == nil || s.LastUpdated.Equal(*o.LastUpdated)
}

func (s Sections) Equal(o Sections) bool {
	for _, name := range SectionNames {
		if !s.Get(name).Equal(o.Get(name)) {
			return false
		}
	}
	return true
}

// Pending lists the sections that have not reached a terminal status.
func (s Sections) Pending() []SectionName {
	var pending []SectionName
	for _, name := range SectionNames {
		if !s.Get(name).Status.IsTerminal() {
			pending = append(pending, name)
		}
	}
	return pending
}

// AggregateDecision derives the attempt decision from the three section statuses:
// REJECTED beats NEEDS_INFO, which beats VERIFIED (all three required), else PENDING.
func AggregateDecision(s Sections) Decision {
	statuses := []SectionStatus{s.Identity.Status, s.Address.Status, s.BusinessAffiliation.Status}

	verified := 0
	needsInfo := false
	for _, status := range statuses {
		switch status {
		case SectionRejected:
			return DecisionRejected
		case SectionNeedsInfo:
			needsInfo = true
		case SectionVerified:
			verified++
		}
	}

	switch {
	case needsInfo:
		return DecisionNeedsInfo
	case verified == len(statuses):
		return DecisionVerified
	default:
		return DecisionPending
	}
}
