package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/shopspring/decimal"
)

// Event types published on purchase request transitions.
const (
	EventSubmitted    = "pr_submitted"
	EventStagePending = "pr_stage_pending"
	EventApproved     = "pr_approved"
	EventRejected     = "pr_rejected"
	EventReturned     = "pr_returned"
	EventPurchased    = "pr_purchased"
	EventCancelled    = "pr_cancelled"
	EventClosed       = "pr_closed"
)

// PurchaseRequestInput carries requester-editable fields.
type PurchaseRequestInput struct {
	Title       string
	Category    string
	Amount      decimal.Decimal
	Currency    string
	Description *string
}

// SubmitOptions adjusts a submission.
type SubmitOptions struct {
	// ManualManagerCode assigns the manager stage when routing cannot resolve
	// one. BGD only.
	ManualManagerCode string
}

// DecisionInput is one approval action.
type DecisionInput struct {
	Decision      repository.Decision
	Reason        string
	ExpectedStage *int
	Assignee      string
}

// PurchaseRequestService orchestrates submission and decisions. Each
// operation reads the purchase request, computes the transition and saves it
// under the optimistic version check; a lost race surfaces as CONFLICT.
type PurchaseRequestService struct {
	prRepo         PurchaseRequestRepositoryInterface
	assignmentRepo AssignmentRepositoryInterface
	historyRepo    HistoryRepositoryInterface
	planRepo       PlanRepositoryInterface
	employeeRepo   EmployeeRepositoryInterface
	hierarchy      HierarchySource
	router         *Router
	machine        *StateMachine
	publisher      NotificationPublisherInterface
	log            *logger.Logger
	now            func() time.Time
}

// NewPurchaseRequestService creates a new PurchaseRequestService. publisher
// may be nil.
func NewPurchaseRequestService(
	prRepo PurchaseRequestRepositoryInterface,
	assignmentRepo AssignmentRepositoryInterface,
	historyRepo HistoryRepositoryInterface,
	planRepo PlanRepositoryInterface,
	employeeRepo EmployeeRepositoryInterface,
	hierarchy HierarchySource,
	router *Router,
	machine *StateMachine,
	publisher NotificationPublisherInterface,
	log *logger.Logger,
) *PurchaseRequestService {
	return &PurchaseRequestService{
		prRepo:         prRepo,
		assignmentRepo: assignmentRepo,
		historyRepo:    historyRepo,
		planRepo:       planRepo,
		employeeRepo:   employeeRepo,
		hierarchy:      hierarchy,
		router:         router,
		machine:        machine,
		publisher:      publisher,
		log:            log.Component("purchase_requests"),
		now:            time.Now,
	}
}

// ── Drafts ───────────────────────────────────────────────────────────────────

// Create stores a new draft owned by actor.
func (s *PurchaseRequestService) Create(ctx context.Context, actor repository.Actor, in PurchaseRequestInput) (*repository.PurchaseRequest, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	requester, err := s.employeeRepo.GetByCode(ctx, actor.Code)
	if err != nil {
		return nil, err
	}
	if !requester.Active {
		return nil, errors.New(errors.ErrCodeForbidden, "inactive employees cannot create purchase requests")
	}

	pr := &repository.PurchaseRequest{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(in.Title),
		RequesterCode: requester.Code,
		BranchCode:    requester.BranchCode,
		Category:      strings.TrimSpace(in.Category),
		Amount:        in.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(in.Currency)),
		Description:   in.Description,
		Status:        repository.StatusDraft,
		CurrentStage:  repository.NoStage,
	}
	if err := s.prRepo.Create(ctx, pr); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("pr_id", pr.ID).
		Str("requester", pr.RequesterCode).
		Str("amount", pr.Amount.StringFixed(2)).
		Msg("Purchase request created")

	return pr, nil
}

// UpdateDetails edits a draft or returned purchase request.
func (s *PurchaseRequestService) UpdateDetails(ctx context.Context, id string, actor repository.Actor, in PurchaseRequestInput, expectedVersion int64) (*repository.PurchaseRequest, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	pr, err := s.prRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.RequesterCode != actor.Code {
		return nil, errors.Wrap(ErrActorMismatch, errors.ErrCodeForbidden, "only the requester may edit")
	}
	if !pr.Status.IsEditable() {
		return nil, errors.Wrap(ErrNotEditable, errors.ErrCodeConflict, fmt.Sprintf("status is %s", pr.Status))
	}
	if expectedVersion == 0 {
		expectedVersion = pr.Version
	}

	pr.Title = strings.TrimSpace(in.Title)
	pr.Category = strings.TrimSpace(in.Category)
	pr.Amount = in.Amount
	pr.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	pr.Description = in.Description
	if err := s.prRepo.UpdateDetails(ctx, pr, expectedVersion); err != nil {
		return nil, err
	}
	return pr, nil
}

func validateInput(in PurchaseRequestInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.InvalidInput("title", "title is required")
	}
	if strings.TrimSpace(in.Category) == "" {
		return errors.InvalidInput("category", "category is required")
	}
	if !in.Amount.IsPositive() {
		return errors.InvalidInput("amount", "amount must be positive")
	}
	if len(strings.TrimSpace(in.Currency)) != 3 {
		return errors.InvalidInput("currency", "currency must be a 3-letter code")
	}
	return nil
}

// ── Submission ───────────────────────────────────────────────────────────────

// Submit routes the purchase request and freezes the plan. Resubmission after
// a return routes again, so rule or hierarchy changes made in between apply.
func (s *PurchaseRequestService) Submit(ctx context.Context, id string, actor repository.Actor, opts SubmitOptions) (*repository.PurchaseRequest, error) {
	pr, err := s.prRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.machine.CheckSubmit(pr, actor); err != nil {
		return nil, err
	}

	res, err := s.hierarchy.Current(ctx)
	if err != nil {
		return nil, err
	}
	requester, ok := res.Employee(pr.RequesterCode)
	if !ok {
		return nil, errors.Wrap(ErrUnknownRequester, errors.ErrCodeRoutingFailed,
			fmt.Sprintf("requester %q is not an active employee", pr.RequesterCode))
	}

	plan, err := s.router.Route(ctx, pr, requester, RouteOptions{
		RoutedBy:          actor,
		ManualManagerCode: strings.TrimSpace(opts.ManualManagerCode),
	})
	if err != nil {
		return nil, err
	}

	t, err := s.machine.Submit(pr, plan, actor, s.now())
	if err != nil {
		return nil, err
	}
	t.PR.BranchCode = requester.BranchCode

	if err := s.prRepo.Save(ctx, t.PR, pr.Version, t.Change); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("pr_id", pr.ID).
		Str("plan_id", plan.ID).
		Str("status", t.PR.Status.String()).
		Int("stages", len(plan.Stages)).
		Msg("Purchase request submitted")

	s.publish(ctx, EventSubmitted, t.PR, actor.Code, []string{t.PR.RequesterCode}, map[string]interface{}{
		"plan_id": plan.ID,
	})
	s.notifyPending(ctx, res, t.PR, actor.Code, "")
	return t.PR, nil
}

// ── Decisions ────────────────────────────────────────────────────────────────

// Apply records a decision by actor on the purchase request's current stage.
func (s *PurchaseRequestService) Apply(ctx context.Context, id string, actor repository.Actor, in DecisionInput) (*repository.PurchaseRequest, error) {
	if actor.Code == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	if in.Decision == repository.DecisionSubmit {
		return nil, errors.InvalidInput("decision", "use submit to route a purchase request")
	}

	pr, err := s.prRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.assignmentRepo.GetActive(ctx, pr.ID)
	if err != nil {
		return nil, err
	}

	res, err := s.hierarchy.Current(ctx)
	if err != nil {
		return nil, err
	}
	assignee := strings.TrimSpace(in.Assignee)
	if needsAssignee(pr, in.Decision) && assignee != "" {
		if err := validateBuyer(res, assignee); err != nil {
			return nil, err
		}
	}

	t, err := s.machine.Apply(pr, Event{
		Decision:         in.Decision,
		Actor:            actor,
		Reason:           in.Reason,
		ExpectedStage:    in.ExpectedStage,
		Assignee:         assignee,
		ActiveAssignment: active,
		At:               s.now(),
	})
	if err != nil {
		s.log.Debug().Err(err).
			Str("pr_id", pr.ID).
			Str("decision", string(in.Decision)).
			Str("actor", actor.Code).
			Msg("Decision refused")
		return nil, err
	}

	if err := s.prRepo.Save(ctx, t.PR, pr.Version, t.Change); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("pr_id", pr.ID).
		Str("decision", string(in.Decision)).
		Str("actor", actor.Code).
		Str("from", t.From.String()).
		Str("to", t.PR.Status.String()).
		Msg("Purchase request transition applied")

	s.notifyTransition(ctx, res, t, actor.Code, in.Reason)
	return t.PR, nil
}

// Reassign moves the buying stage to another buyer.
func (s *PurchaseRequestService) Reassign(ctx context.Context, id string, actor repository.Actor, assignee, reason string) (*repository.PurchaseRequest, error) {
	return s.Apply(ctx, id, actor, DecisionInput{
		Decision: repository.DecisionReassign,
		Reason:   reason,
		Assignee: assignee,
	})
}

func needsAssignee(pr *repository.PurchaseRequest, d repository.Decision) bool {
	return d == repository.DecisionReassign ||
		(d == repository.DecisionApprove && pr.Status == repository.Pending(repository.StageBuyerLeader))
}

func validateBuyer(res *hierarchy.Resolution, code string) error {
	buyer, ok := res.Employee(code)
	if !ok {
		return errors.InvalidInput("assignee", fmt.Sprintf("%q is not an active employee", code))
	}
	if !buyer.HasRole(repository.RoleBuyer) {
		return errors.InvalidInput("assignee", fmt.Sprintf("%q does not hold the BUYER role", code))
	}
	return nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Get returns a purchase request with its current plan.
func (s *PurchaseRequestService) Get(ctx context.Context, id string) (*repository.PurchaseRequest, error) {
	return s.prRepo.GetByID(ctx, id)
}

// History returns the decision trail of a purchase request, oldest first.
func (s *PurchaseRequestService) History(ctx context.Context, id string) ([]*repository.HistoryEntry, error) {
	if _, err := s.prRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.historyRepo.GetByPurchaseRequest(ctx, id)
}

// Plans returns every plan routed for a purchase request, oldest first.
func (s *PurchaseRequestService) Plans(ctx context.Context, id string) ([]*repository.ApprovalPlan, error) {
	if _, err := s.prRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.planRepo.ListByPurchaseRequest(ctx, id)
}

// ActiveAssignment returns the current buyer assignment, or nil.
func (s *PurchaseRequestService) ActiveAssignment(ctx context.Context, id string) (*repository.Assignment, error) {
	return s.assignmentRepo.GetActive(ctx, id)
}

// ListPending returns purchase requests whose current stage actor can decide:
// stages naming the actor, role-based stages for a role the actor holds, and
// buyer stages assigned to the actor.
func (s *PurchaseRequestService) ListPending(ctx context.Context, actor repository.Actor) ([]*repository.PurchaseRequest, error) {
	awaiting, err := s.prRepo.ListAwaiting(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*repository.PurchaseRequest, 0)
	for _, pr := range awaiting {
		stage := pr.Current()
		if stage == nil {
			continue
		}
		switch {
		case stage.ResponsibleCode != "":
			if stage.ResponsibleCode == actor.Code {
				out = append(out, pr)
			}
		case stage.Kind == repository.StageBuyer:
			a, err := s.assignmentRepo.GetActive(ctx, pr.ID)
			if err != nil {
				return nil, err
			}
			if a != nil && a.BuyerCode == actor.Code {
				out = append(out, pr)
			}
		case stage.ResponsibleRole != "":
			if actor.HasRole(stage.ResponsibleRole) {
				out = append(out, pr)
			}
		}
	}
	return out, nil
}

// ── Notifications ────────────────────────────────────────────────────────────

func (s *PurchaseRequestService) notifyTransition(ctx context.Context, res *hierarchy.Resolution, t *Transition, actorCode, reason string) {
	payload := map[string]interface{}{
		"from": t.From.String(),
		"to":   t.PR.Status.String(),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	requester := []string{t.PR.RequesterCode}

	switch t.PR.Status.Outcome {
	case repository.OutcomePending:
		if t.From != t.PR.Status {
			s.publish(ctx, EventApproved, t.PR, actorCode, requester, payload)
		}
		assignee := ""
		if t.Change.Assign != nil {
			assignee = t.Change.Assign.BuyerCode
		}
		s.notifyPending(ctx, res, t.PR, actorCode, assignee)
	case repository.OutcomeRejected:
		s.publish(ctx, EventRejected, t.PR, actorCode, requester, payload)
	case repository.OutcomeReturned:
		s.publish(ctx, EventReturned, t.PR, actorCode, requester, payload)
	case repository.OutcomePurchased:
		s.publish(ctx, EventPurchased, t.PR, actorCode, requester, payload)
	case repository.OutcomeClosed:
		s.publish(ctx, EventClosed, t.PR, actorCode, requester, payload)
	case repository.OutcomeCancelled:
		s.publish(ctx, EventCancelled, t.PR, actorCode, requester, payload)
	}
}

// notifyPending tells the next deciders that the current stage awaits them.
func (s *PurchaseRequestService) notifyPending(ctx context.Context, res *hierarchy.Resolution, pr *repository.PurchaseRequest, actorCode, assignee string) {
	stage := pr.Current()
	if stage == nil {
		return
	}

	var recipients []string
	switch {
	case stage.ResponsibleCode != "":
		recipients = []string{stage.ResponsibleCode}
	case stage.Kind == repository.StageBuyer && assignee != "":
		recipients = []string{assignee}
	case stage.ResponsibleRole != "":
		for _, e := range res.EmployeesWithRole(stage.ResponsibleRole) {
			recipients = append(recipients, e.Code)
		}
	}

	s.publish(ctx, EventStagePending, pr, actorCode, recipients, map[string]interface{}{
		"stage":       string(stage.Kind),
		"stage_index": stage.Index,
	})
}

func (s *PurchaseRequestService) publish(ctx context.Context, eventType string, pr *repository.PurchaseRequest, actorCode string, recipients []string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["title"] = pr.Title
	payload["status"] = pr.Status.String()
	payload["amount"] = pr.Amount.StringFixed(2)
	payload["currency"] = pr.Currency
	s.publisher.PublishPurchaseRequestEvent(ctx, eventType, pr.ID, pr.BranchCode, actorCode, recipients, payload)
}
