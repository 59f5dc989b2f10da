package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// Event is a decision applied to a purchase request.
type Event struct {
	Decision repository.Decision
	Actor    repository.Actor
	Reason   string
	// ExpectedStage, when set, must equal the purchase request's current
	// stage index. Callers pass the stage they saw so that a decision made
	// against a stale view is refused instead of landing on the next stage.
	ExpectedStage *int
	// Assignee is the buyer chosen on buyer-leader approval or reassignment.
	Assignee string
	// ActiveAssignment is the purchase request's current buyer assignment.
	ActiveAssignment *repository.Assignment
	At               time.Time
}

// Transition is the outcome of a successful decision. PR is a modified copy;
// the input is never mutated.
type Transition struct {
	PR     *repository.PurchaseRequest
	From   repository.Status
	Change repository.Change
}

type transitionKey struct {
	stage    repository.StageKind
	decision repository.Decision
}

// anyStage matches decisions that are valid regardless of the current stage.
const anyStage repository.StageKind = "*"

type guardFunc func(pr *repository.PurchaseRequest, stage *repository.PlanStage, ev Event) error

type effectFunc func(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event)

type transitionRule struct {
	guards []guardFunc
	effect effectFunc
}

// StateMachine applies decisions to purchase requests. Valid moves are data
// in a table keyed by (stage kind, decision); the machine itself is pure.
type StateMachine struct {
	table map[transitionKey]transitionRule
	newID func() string
}

// NewStateMachine builds the transition table.
func NewStateMachine() *StateMachine {
	approverStage := map[repository.Decision]transitionRule{
		repository.DecisionApprove: {guards: []guardFunc{responsibleActor}, effect: advance},
		repository.DecisionReject:  {guards: []guardFunc{responsibleActor, reasonRequired}, effect: reject},
		repository.DecisionReturn:  {guards: []guardFunc{responsibleActor, reasonRequired}, effect: returnToRequester},
	}

	table := map[transitionKey]transitionRule{
		{repository.StageBuyerLeader, repository.DecisionApprove}: {guards: []guardFunc{roleHolder, assigneeRequired}, effect: assignAndAdvance},
		{repository.StageBuyerLeader, repository.DecisionReject}:  {guards: []guardFunc{roleHolder, reasonRequired}, effect: reject},
		{repository.StageBuyerLeader, repository.DecisionReturn}:  {guards: []guardFunc{roleHolder, reasonRequired}, effect: returnToRequester},

		{repository.StageBuyer, repository.DecisionApprove}:  {guards: []guardFunc{assignedBuyer}, effect: purchase},
		{repository.StageBuyer, repository.DecisionClose}:    {guards: []guardFunc{assignedBuyer, reasonRequired}, effect: closeRequest},
		{repository.StageBuyer, repository.DecisionReassign}: {guards: []guardFunc{buyerLeader, assigneeRequired, assigneeChanged}, effect: reassign},

		{anyStage, repository.DecisionCancel}: {guards: []guardFunc{requesterOnly}, effect: cancel},
	}
	for _, kind := range []repository.StageKind{repository.StageManager, repository.StageBranchManager} {
		for decision, rule := range approverStage {
			table[transitionKey{kind, decision}] = rule
		}
	}

	return &StateMachine{table: table, newID: uuid.NewString}
}

// Allowed reports the decisions the table defines for a status, ignoring guards.
func (m *StateMachine) Allowed(status repository.Status) []repository.Decision {
	if status.IsTerminal() {
		return nil
	}
	var out []repository.Decision
	for _, d := range []repository.Decision{
		repository.DecisionApprove, repository.DecisionReject, repository.DecisionReturn,
		repository.DecisionClose, repository.DecisionReassign,
	} {
		if status.IsPending() {
			if _, ok := m.table[transitionKey{status.Stage, d}]; ok {
				out = append(out, d)
			}
		}
	}
	return append(out, repository.DecisionCancel)
}

// CheckSubmit reports whether actor may submit pr in its current state.
func (m *StateMachine) CheckSubmit(pr *repository.PurchaseRequest, actor repository.Actor) error {
	if pr.Status.IsTerminal() {
		return errors.Wrap(ErrTerminal, errors.ErrCodeConflict, fmt.Sprintf("status is %s", pr.Status))
	}
	if !pr.Status.IsEditable() {
		return errors.Wrap(ErrNotEditable, errors.ErrCodeConflict, fmt.Sprintf("status is %s", pr.Status))
	}
	if actor.Code != pr.RequesterCode && !actor.HasRole(repository.RoleBGD) {
		return errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden, "only the requester may submit")
	}
	return nil
}

// Submit freezes plan onto pr and moves it to the first stage.
func (m *StateMachine) Submit(pr *repository.PurchaseRequest, plan *repository.ApprovalPlan, actor repository.Actor, at time.Time) (*Transition, error) {
	if err := m.CheckSubmit(pr, actor); err != nil {
		return nil, err
	}
	if plan == nil || len(plan.Stages) == 0 {
		return nil, errors.New(errors.ErrCodeInternal, "cannot submit without an approval plan")
	}

	t := &Transition{PR: pr.Clone(), From: pr.Status}
	metadata := map[string]interface{}{
		"plan_id":      plan.ID,
		"stages":       plan.Kinds(),
		"rule_default": plan.Rule.IsDefault,
		"need_bm":      plan.Rule.NeedBranchManagerApproval,
	}
	if pr.Plan != nil {
		metadata["superseded_plan_id"] = pr.Plan.ID
	}
	if plan.Stages[0].ManuallyAssigned {
		metadata["manual_manager_code"] = plan.Stages[0].ResponsibleCode
	}

	t.PR.Plan = plan.Clone()
	t.PR.CurrentStage = 0
	t.PR.Status = repository.Pending(plan.Stages[0].Kind)
	t.PR.SubmittedAt = &at
	t.Change.NewPlan = plan.Clone()
	t.Change.History = append(t.Change.History, &repository.HistoryEntry{
		ID:                m.newID(),
		PurchaseRequestID: pr.ID,
		PlanID:            plan.ID,
		StageIndex:        repository.NoStage,
		Decision:          repository.DecisionSubmit,
		ActorCode:         actor.Code,
		StatusBefore:      t.From,
		StatusAfter:       t.PR.Status,
		Metadata:          metadata,
		OccurredAt:        at,
	})
	return t, nil
}

// Apply validates ev against pr's current stage and returns the resulting
// transition. pr is not modified.
func (m *StateMachine) Apply(pr *repository.PurchaseRequest, ev Event) (*Transition, error) {
	if pr.Status.IsTerminal() {
		return nil, errors.Wrap(ErrTerminal, errors.ErrCodeConflict, fmt.Sprintf("status is %s", pr.Status))
	}

	rule, ok := m.table[transitionKey{pr.Status.Stage, ev.Decision}]
	if !ok || !pr.Status.IsPending() {
		rule, ok = m.table[transitionKey{anyStage, ev.Decision}]
	}
	if !ok {
		return nil, errors.Wrap(ErrInvalidTransition, errors.ErrCodeConflict,
			fmt.Sprintf("%s is not allowed while %s", ev.Decision, pr.Status))
	}

	stage := pr.Current()
	if pr.Status.IsPending() {
		if stage == nil {
			return nil, errors.New(errors.ErrCodeInternal,
				fmt.Sprintf("purchase request %q is %s without a current plan stage", pr.ID, pr.Status))
		}
		if ev.ExpectedStage != nil && *ev.ExpectedStage != pr.CurrentStage {
			return nil, errors.Wrap(ErrStageNotCurrent, errors.ErrCodeConflict,
				fmt.Sprintf("expected stage %d, current stage is %d", *ev.ExpectedStage, pr.CurrentStage))
		}
	}

	for _, guard := range rule.guards {
		if err := guard(pr, stage, ev); err != nil {
			return nil, err
		}
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	t := &Transition{PR: pr.Clone(), From: pr.Status}
	rule.effect(m, t, stage, ev)
	return t, nil
}

func (m *StateMachine) record(t *Transition, stage *repository.PlanStage, ev Event, actorCode string, auto bool, metadata map[string]interface{}) {
	entry := &repository.HistoryEntry{
		ID:                m.newID(),
		PurchaseRequestID: t.PR.ID,
		StageIndex:        repository.NoStage,
		Decision:          ev.Decision,
		ActorCode:         actorCode,
		StatusBefore:      t.From,
		StatusAfter:       t.PR.Status,
		AutoSatisfied:     auto,
		Metadata:          metadata,
		OccurredAt:        ev.At,
	}
	if t.PR.Plan != nil {
		entry.PlanID = t.PR.Plan.ID
	}
	if stage != nil {
		entry.StageIndex = stage.Index
		entry.Stage = stage.Kind
	}
	if r := strings.TrimSpace(ev.Reason); r != "" && !auto {
		entry.Reason = &r
	}
	t.Change.History = append(t.Change.History, entry)
}

// ── Guards ───────────────────────────────────────────────────────────────────

func responsibleActor(_ *repository.PurchaseRequest, stage *repository.PlanStage, ev Event) error {
	if stage.ResponsibleCode == "" || stage.ResponsibleCode != ev.Actor.Code {
		return errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden,
			fmt.Sprintf("%s stage is assigned to %q, not %q", stage.Kind, stage.ResponsibleCode, ev.Actor.Code))
	}
	return nil
}

func roleHolder(_ *repository.PurchaseRequest, stage *repository.PlanStage, ev Event) error {
	if !ev.Actor.HasRole(stage.ResponsibleRole) {
		return errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden,
			fmt.Sprintf("%s stage requires role %s", stage.Kind, stage.ResponsibleRole))
	}
	return nil
}

func buyerLeader(_ *repository.PurchaseRequest, _ *repository.PlanStage, ev Event) error {
	if !ev.Actor.HasRole(repository.RoleBuyerLeader) {
		return errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden, "only a buyer leader may reassign")
	}
	return nil
}

func assignedBuyer(_ *repository.PurchaseRequest, _ *repository.PlanStage, ev Event) error {
	if ev.ActiveAssignment == nil {
		return errors.New(errors.ErrCodeConflict, "purchase request has no active buyer assignment")
	}
	if ev.ActiveAssignment.BuyerCode != ev.Actor.Code {
		return errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden,
			fmt.Sprintf("purchase request is assigned to %q, not %q", ev.ActiveAssignment.BuyerCode, ev.Actor.Code))
	}
	return nil
}

func requesterOnly(pr *repository.PurchaseRequest, _ *repository.PlanStage, ev Event) error {
	if ev.Actor.Code != pr.RequesterCode {
		return errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden, "only the requester may cancel")
	}
	return nil
}

func reasonRequired(_ *repository.PurchaseRequest, _ *repository.PlanStage, ev Event) error {
	if strings.TrimSpace(ev.Reason) == "" {
		return errors.InvalidInput("reason", fmt.Sprintf("a reason is required to %s", strings.ToLower(string(ev.Decision))))
	}
	return nil
}

func assigneeRequired(_ *repository.PurchaseRequest, _ *repository.PlanStage, ev Event) error {
	if strings.TrimSpace(ev.Assignee) == "" {
		return errors.InvalidInput("assignee", "a buyer must be assigned")
	}
	return nil
}

func assigneeChanged(_ *repository.PurchaseRequest, _ *repository.PlanStage, ev Event) error {
	if ev.ActiveAssignment != nil && ev.ActiveAssignment.BuyerCode == ev.Assignee {
		return errors.InvalidInput("assignee", "purchase request is already assigned to this buyer")
	}
	return nil
}

// ── Effects ──────────────────────────────────────────────────────────────────

// advance moves past the current stage, recording auto-satisfied stages that
// the same decision covers.
func advance(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	plan := t.PR.Plan
	next := stage.Index + 1
	var skipped []*repository.PlanStage
	for next < len(plan.Stages) && plan.Stages[next].AutoSatisfiedBy != nil && *plan.Stages[next].AutoSatisfiedBy <= stage.Index {
		skipped = append(skipped, &plan.Stages[next])
		next++
	}

	if next >= len(plan.Stages) {
		t.PR.Status = repository.StatusPurchased
		t.PR.CurrentStage = repository.NoStage
	} else {
		t.PR.Status = repository.Pending(plan.Stages[next].Kind)
		t.PR.CurrentStage = next
	}

	m.record(t, stage, ev, ev.Actor.Code, false, nil)
	for _, s := range skipped {
		m.record(t, s, ev, ev.Actor.Code, true, map[string]interface{}{
			"satisfied_by_stage": stage.Index,
		})
	}
}

func assignAndAdvance(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	t.Change.Assign = &repository.Assignment{
		ID:                m.newID(),
		PurchaseRequestID: t.PR.ID,
		BuyerCode:         ev.Assignee,
		AssignedBy:        ev.Actor.Code,
		AssignedAt:        ev.At,
	}
	advance(m, t, stage, ev)
	last := t.Change.History[len(t.Change.History)-1]
	last.Metadata = map[string]interface{}{"assignee": ev.Assignee}
}

func purchase(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	t.PR.Status = repository.StatusPurchased
	t.PR.CurrentStage = repository.NoStage
	m.record(t, stage, ev, ev.Actor.Code, false, nil)
}

func closeRequest(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	t.PR.Status = repository.StatusClosed
	t.PR.CurrentStage = repository.NoStage
	m.record(t, stage, ev, ev.Actor.Code, false, nil)
}

func reject(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	t.PR.Status = repository.Status{Stage: stage.Kind, Outcome: repository.OutcomeRejected}
	t.PR.CurrentStage = repository.NoStage
	retire(t, ev)
	m.record(t, stage, ev, ev.Actor.Code, false, nil)
}

func returnToRequester(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	t.PR.Status = repository.Status{Stage: stage.Kind, Outcome: repository.OutcomeReturned}
	t.PR.CurrentStage = repository.NoStage
	retire(t, ev)
	m.record(t, stage, ev, ev.Actor.Code, false, nil)
}

func reassign(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	previous := ""
	retire(t, ev)
	if ev.ActiveAssignment != nil {
		previous = ev.ActiveAssignment.BuyerCode
	}
	t.Change.Assign = &repository.Assignment{
		ID:                m.newID(),
		PurchaseRequestID: t.PR.ID,
		BuyerCode:         ev.Assignee,
		AssignedBy:        ev.Actor.Code,
		AssignedAt:        ev.At,
	}
	m.record(t, stage, ev, ev.Actor.Code, false, map[string]interface{}{
		"assignee":          ev.Assignee,
		"previous_assignee": previous,
	})
}

func cancel(m *StateMachine, t *Transition, stage *repository.PlanStage, ev Event) {
	t.PR.Status = repository.StatusCancelled
	t.PR.CurrentStage = repository.NoStage
	retire(t, ev)
	m.record(t, stage, ev, ev.Actor.Code, false, nil)
}

func retire(t *Transition, ev Event) {
	if ev.ActiveAssignment != nil {
		t.Change.RetireAssignmentID = ev.ActiveAssignment.ID
	}
}
