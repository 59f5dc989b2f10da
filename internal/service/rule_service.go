package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// DefaultRule is returned for branches without a stored rule. Absence means
// branch manager approval is required.
func DefaultRule(branchCode string) *repository.ApprovalRule {
	return &repository.ApprovalRule{
		BranchCode:                branchCode,
		NeedBranchManagerApproval: true,
		IsDefault:                 true,
	}
}

// RuleService is the per-branch governance store. Reads always go to the
// repository so routing sees the latest committed rule.
type RuleService struct {
	rulesRepo RulesRepositoryInterface
	log       *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(rulesRepo RulesRepositoryInterface, log *logger.Logger) *RuleService {
	return &RuleService{rulesRepo: rulesRepo, log: log.Component("rules")}
}

// GetRule returns the branch rule, or the fail-safe default.
func (s *RuleService) GetRule(ctx context.Context, branchCode string) (*repository.ApprovalRule, error) {
	branchCode = strings.TrimSpace(branchCode)
	if branchCode == "" {
		return nil, errors.InvalidInput("branch_code", "branch code is required")
	}

	rule, err := s.rulesRepo.GetByBranch(ctx, branchCode)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return DefaultRule(branchCode), nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// SetRule replaces the branch rule. Last writer wins; the store assigns the
// timestamp. Plans already frozen are unaffected.
func (s *RuleService) SetRule(ctx context.Context, branchCode string, needBranchManagerApproval bool, note string, actor repository.Actor) (*repository.ApprovalRule, error) {
	branchCode = strings.TrimSpace(branchCode)
	if branchCode == "" {
		return nil, errors.InvalidInput("branch_code", "branch code is required")
	}
	if actor.Code == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	if !actor.HasRole(repository.RoleBGD) {
		return nil, errors.New(errors.ErrCodeForbidden, "only BGD may change approval rules")
	}

	rule := &repository.ApprovalRule{
		BranchCode:                branchCode,
		NeedBranchManagerApproval: needBranchManagerApproval,
		Note:                      strings.TrimSpace(note),
		UpdatedBy:                 actor.Code,
	}
	if err := s.rulesRepo.Upsert(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("branch_code", branchCode).
		Bool("need_branch_manager_approval", needBranchManagerApproval).
		Str("updated_by", actor.Code).
		Msg("Approval rule updated")

	return rule, nil
}

// ListRules returns every stored rule.
func (s *RuleService) ListRules(ctx context.Context) ([]*repository.ApprovalRule, error) {
	return s.rulesRepo.List(ctx)
}
