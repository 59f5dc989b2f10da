package repository

import (
	"fmt"
	"strings"
)

// StageKind names a position type in an approval plan.
type StageKind string

const (
	StageManager       StageKind = "MANAGER"
	StageBranchManager StageKind = "BRANCH_MANAGER"
	StageBuyerLeader   StageKind = "BUYER_LEADER"
	StageBuyer         StageKind = "BUYER"
)

var stageKinds = []StageKind{StageManager, StageBranchManager, StageBuyerLeader, StageBuyer}

// IsBuyingPhase reports whether the stage belongs to the fixed buying tail of
// every plan.
func (k StageKind) IsBuyingPhase() bool {
	return k == StageBuyerLeader || k == StageBuyer
}

// Outcome is the second half of a stage-qualified status.
type Outcome string

const (
	OutcomePending  Outcome = "PENDING"
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeReturned Outcome = "RETURNED"

	// Stage-less outcomes.
	OutcomeDraft     Outcome = "DRAFT"
	OutcomePurchased Outcome = "PURCHASED"
	OutcomeClosed    Outcome = "CLOSED"
	OutcomeCancelled Outcome = "CANCELLED"
)

var stagelessOutcomes = map[Outcome]bool{
	OutcomeDraft:     true,
	OutcomePurchased: true,
	OutcomeClosed:    true,
	OutcomeCancelled: true,
}

// Status is a (stage kind × outcome) pair. Stage is empty for DRAFT and for
// the stage-less terminal outcomes.
type Status struct {
	Stage   StageKind
	Outcome Outcome
}

var (
	StatusDraft     = Status{Outcome: OutcomeDraft}
	StatusPurchased = Status{Outcome: OutcomePurchased}
	StatusClosed    = Status{Outcome: OutcomeClosed}
	StatusCancelled = Status{Outcome: OutcomeCancelled}
)

// Pending returns the pending status for a stage kind.
func Pending(kind StageKind) Status { return Status{Stage: kind, Outcome: OutcomePending} }

func (s Status) String() string {
	if s.Stage == "" {
		return string(s.Outcome)
	}
	return string(s.Stage) + "_" + string(s.Outcome)
}

// IsTerminal reports whether no further decision can be applied.
func (s Status) IsTerminal() bool {
	switch s.Outcome {
	case OutcomeRejected, OutcomePurchased, OutcomeClosed, OutcomeCancelled:
		return true
	}
	return false
}

// IsEditable reports whether the requester may edit and (re)submit.
func (s Status) IsEditable() bool {
	return s.Outcome == OutcomeDraft || s.Outcome == OutcomeReturned
}

// IsPending reports whether a stage is awaiting a decision.
func (s Status) IsPending() bool { return s.Outcome == OutcomePending }

// ParseStatus parses the persisted form produced by String.
func ParseStatus(v string) (Status, error) {
	if stagelessOutcomes[Outcome(v)] {
		return Status{Outcome: Outcome(v)}, nil
	}
	for _, kind := range stageKinds {
		prefix := string(kind) + "_"
		if !strings.HasPrefix(v, prefix) {
			continue
		}
		outcome := Outcome(strings.TrimPrefix(v, prefix))
		switch outcome {
		case OutcomePending, OutcomeApproved, OutcomeRejected, OutcomeReturned:
			return Status{Stage: kind, Outcome: outcome}, nil
		}
	}
	return Status{}, fmt.Errorf("unknown purchase request status %q", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Decision is an event applied to a purchase request.
type Decision string

const (
	DecisionSubmit   Decision = "SUBMIT"
	DecisionApprove  Decision = "APPROVE"
	DecisionReject   Decision = "REJECT"
	DecisionReturn   Decision = "RETURN"
	DecisionCancel   Decision = "CANCEL"
	DecisionClose    Decision = "CLOSE"
	DecisionReassign Decision = "REASSIGN"
)

// ParseDecision validates a caller-supplied decision name.
func ParseDecision(v string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(v)))
	switch d {
	case DecisionApprove, DecisionReject, DecisionReturn, DecisionCancel, DecisionClose, DecisionReassign:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision %q", v)
}
