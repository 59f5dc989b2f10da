package service

import (
	"context"
	"testing"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleService_GetRule_DefaultsToRequired(t *testing.T) {
	svc := NewRuleService(memory.NewRulesRepository(), logger.Nop())

	rule, err := svc.GetRule(context.Background(), "HN")
	require.NoError(t, err)
	assert.True(t, rule.NeedBranchManagerApproval)
	assert.True(t, rule.IsDefault)
	assert.Equal(t, "HN", rule.BranchCode)

	_, err = svc.GetRule(context.Background(), " ")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestRuleService_SetRule(t *testing.T) {
	ctx := context.Background()
	svc := NewRuleService(memory.NewRulesRepository(), logger.Nop())
	admin := repository.Actor{Code: "ADMIN", Roles: []repository.Role{repository.RoleBGD}}

	_, err := svc.SetRule(ctx, "HN", false, "", repository.Actor{Code: "E", Roles: []repository.Role{repository.RoleRequestor}})
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	saved, err := svc.SetRule(ctx, "HN", false, "  small branch ", admin)
	require.NoError(t, err)
	assert.False(t, saved.NeedBranchManagerApproval)
	assert.Equal(t, "small branch", saved.Note)
	assert.Equal(t, "ADMIN", saved.UpdatedBy)
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := svc.GetRule(ctx, "HN")
	require.NoError(t, err)
	assert.False(t, got.NeedBranchManagerApproval)
	assert.False(t, got.IsDefault)

	// last writer wins
	_, err = svc.SetRule(ctx, "HN", true, "", admin)
	require.NoError(t, err)
	got, err = svc.GetRule(ctx, "HN")
	require.NoError(t, err)
	assert.True(t, got.NeedBranchManagerApproval)

	rules, err := svc.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}
