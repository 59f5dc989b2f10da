package service

import "github.com/pesio-ai/be-pr-approvals/internal/errors"

// Routing failures block submission.
var (
	ErrNoResolvableManager       = errors.New(errors.ErrCodeRoutingFailed, "requester has no resolvable direct manager; manual assignment required")
	ErrNoBranchManagerConfigured = errors.New(errors.ErrCodeRoutingFailed, "branch requires branch manager approval but has no branch manager")
	ErrAmbiguousBranchManager    = errors.New(errors.ErrCodeRoutingFailed, "branch has more than one branch manager; an administrator must designate one")
	ErrSelfApproval              = errors.New(errors.ErrCodeRoutingFailed, "requester would approve their own purchase request")
	ErrUnknownRequester          = errors.New(errors.ErrCodeRoutingFailed, "requester is not an active employee")
)

// Transition errors leave the purchase request unchanged.
var (
	ErrActorMismatch     = errors.New(errors.ErrCodeForbidden, "actor is not responsible for the current stage")
	ErrStageNotCurrent   = errors.New(errors.ErrCodeConflict, "stage is no longer current")
	ErrTerminal          = errors.New(errors.ErrCodeConflict, "purchase request is in a terminal state")
	ErrInvalidTransition = errors.New(errors.ErrCodeConflict, "decision is not allowed in the current state")
	ErrNotEditable       = errors.New(errors.ErrCodeConflict, "purchase request can only be changed while draft or returned")
)
