package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// RouteOptions adjusts a single routing call.
type RouteOptions struct {
	// RoutedBy is recorded on the plan.
	RoutedBy repository.Actor
	// ManualManagerCode supplies the first stage approver when the requester
	// has no resolvable direct manager. Only BGD may set it.
	ManualManagerCode string
}

// buyingTail is appended to every plan.
var buyingTail = []repository.PlanStage{
	{Kind: repository.StageBuyerLeader, ResponsibleRole: repository.RoleBuyerLeader},
	{Kind: repository.StageBuyer, ResponsibleRole: repository.RoleBuyer},
}

// Router computes approval plans. It only reads: the hierarchy snapshot and
// the rule store. The resulting plan is frozen by the caller.
type Router struct {
	hierarchy HierarchySource
	rules     *RuleService
	log       *logger.Logger
	now       func() time.Time
}

// NewRouter creates a new Router.
func NewRouter(hierarchy HierarchySource, rules *RuleService, log *logger.Logger) *Router {
	return &Router{
		hierarchy: hierarchy,
		rules:     rules,
		log:       log.Component("router"),
		now:       time.Now,
	}
}

// Route returns the ordered approval plan for pr submitted by requester:
// direct manager, branch manager when the branch rule requires it, then the
// fixed buyer-leader and buyer stages.
func (r *Router) Route(ctx context.Context, pr *repository.PurchaseRequest, requester *repository.Employee, opts RouteOptions) (*repository.ApprovalPlan, error) {
	if requester == nil {
		return nil, ErrUnknownRequester
	}

	res, err := r.hierarchy.Current(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := res.Employee(requester.Code); !ok {
		return nil, errors.Wrap(ErrUnknownRequester, errors.ErrCodeRoutingFailed,
			fmt.Sprintf("requester %q is not in the current organization snapshot", requester.Code))
	}

	first, err := r.managerStage(res, requester, opts)
	if err != nil {
		r.log.Warn().Err(err).
			Str("pr_id", pr.ID).
			Str("requester", requester.Code).
			Msg("Routing failed at manager stage")
		return nil, err
	}
	stages := []repository.PlanStage{first}

	rule, err := r.rules.GetRule(ctx, requester.BranchCode)
	if err != nil {
		return nil, err
	}
	if rule.NeedBranchManagerApproval {
		second, err := r.branchManagerStage(res, requester, first)
		if err != nil {
			r.log.Warn().Err(err).
				Str("pr_id", pr.ID).
				Str("branch_code", requester.BranchCode).
				Msg("Routing failed at branch manager stage")
			return nil, err
		}
		stages = append(stages, second)
	}

	stages = append(stages, buyingTail...)
	for i := range stages {
		stages[i].Index = i
	}

	plan := &repository.ApprovalPlan{
		ID:                  uuid.NewString(),
		PurchaseRequestID:   pr.ID,
		Stages:              stages,
		Rule:                *rule,
		HierarchyGeneration: res.Generation,
		RoutedAt:            r.now(),
		RoutedBy:            opts.RoutedBy.Code,
	}

	r.log.Info().
		Str("pr_id", pr.ID).
		Str("plan_id", plan.ID).
		Interface("stages", plan.Kinds()).
		Bool("rule_default", rule.IsDefault).
		Uint64("hierarchy_generation", res.Generation).
		Msg("Approval plan computed")

	return plan, nil
}

func (r *Router) managerStage(res *hierarchy.Resolution, requester *repository.Employee, opts RouteOptions) (repository.PlanStage, error) {
	stage := repository.PlanStage{Kind: repository.StageManager}

	if opts.ManualManagerCode != "" {
		if !opts.RoutedBy.HasRole(repository.RoleBGD) {
			return stage, errors.New(errors.ErrCodeForbidden, "only BGD may assign the manager stage manually")
		}
		manual, ok := res.Employee(opts.ManualManagerCode)
		if !ok {
			return stage, errors.InvalidInput("manual_manager_code",
				fmt.Sprintf("%q is not an active employee", opts.ManualManagerCode))
		}
		if manual.Code == requester.Code {
			return stage, ErrSelfApproval
		}
		stage.ResponsibleCode = manual.Code
		stage.ManuallyAssigned = true
		return stage, nil
	}

	manager, ok := res.ManagerOf(requester.Code)
	if !ok {
		reason := "has no direct manager"
		switch {
		case res.InCycle(requester.Code):
			reason = "is on a manager cycle"
		case requester.ManagerCode() != "":
			reason = fmt.Sprintf("reports to %q who is not an active employee", requester.ManagerCode())
		}
		return stage, errors.Wrap(ErrNoResolvableManager, errors.ErrCodeRoutingFailed,
			fmt.Sprintf("requester %q %s", requester.Code, reason))
	}
	stage.ResponsibleCode = manager.Code
	return stage, nil
}

func (r *Router) branchManagerStage(res *hierarchy.Resolution, requester *repository.Employee, first repository.PlanStage) (repository.PlanStage, error) {
	stage := repository.PlanStage{Kind: repository.StageBranchManager}

	bm := res.BranchManager(requester.BranchCode)
	switch bm.Status {
	case hierarchy.BranchManagerMissing:
		return stage, errors.Wrap(ErrNoBranchManagerConfigured, errors.ErrCodeRoutingFailed,
			fmt.Sprintf("branch %q has no branch manager", requester.BranchCode))
	case hierarchy.BranchManagerAmbiguous:
		return stage, errors.Wrap(ErrAmbiguousBranchManager, errors.ErrCodeRoutingFailed,
			fmt.Sprintf("branch %q has branch managers %v", requester.BranchCode, bm.Candidates))
	}
	if bm.Manager.Code == requester.Code {
		return stage, ErrSelfApproval
	}

	stage.ResponsibleCode = bm.Manager.Code
	// The same person approves once; the later stage is satisfied by the
	// earlier decision.
	if first.ResponsibleCode == bm.Manager.Code {
		idx := 0
		stage.AutoSatisfiedBy = &idx
	}
	return stage, nil
}
