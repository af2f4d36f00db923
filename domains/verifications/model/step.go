package model

// Step is one screen of the verification wizard.
type Step string

const (
	StepWelcome             Step = "welcome"
	StepIdentity            Step = "identity"
	StepAddress             Step = "address"
	StepBusinessAffiliation Step = "business_affiliation"
	StepSummary             Step = "summary"
	StepComplete            Step = "complete"
)

// Steps is the strictly linear wizard order.
var Steps = []Step{StepWelcome, StepIdentity, StepAddress, StepBusinessAffiliation, StepSummary, StepComplete}

// Index returns the position of s in Steps, or -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Draft is the autosaved wizard state persisted as an attempt's draftData.
type Draft struct {
	CurrentStep Step     `json:"currentStep"`
	Sections    Sections `json:"sections"`
}
