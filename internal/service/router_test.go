package service

import (
	"testing"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) route(requester string, opts RouteOptions) (*repository.ApprovalPlan, error) {
	env.t.Helper()
	res, err := env.holder.Current(env.ctx)
	require.NoError(env.t, err)
	e, ok := res.Employee(requester)
	require.True(env.t, ok)
	return env.router.Route(env.ctx, &repository.PurchaseRequest{ID: "PR-1", RequesterCode: requester}, e, opts)
}

func TestRouter_Route_StandardScenario(t *testing.T) {
	env := newTestEnv(t, standardOrg())
	env.setRule("HN", true)

	plan, err := env.route("E", RouteOptions{})
	require.NoError(t, err)

	assert.Equal(t, []repository.StageKind{
		repository.StageManager,
		repository.StageBranchManager,
		repository.StageBuyerLeader,
		repository.StageBuyer,
	}, plan.Kinds())
	assert.Equal(t, "M1", plan.Stages[0].ResponsibleCode)
	assert.Equal(t, "BM1", plan.Stages[1].ResponsibleCode)
	assert.Nil(t, plan.Stages[1].AutoSatisfiedBy)
	assert.Equal(t, repository.RoleBuyerLeader, plan.Stages[2].ResponsibleRole)
	assert.Equal(t, repository.RoleBuyer, plan.Stages[3].ResponsibleRole)
	for i, s := range plan.Stages {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, "PR-1", plan.PurchaseRequestID)
	assert.False(t, plan.Rule.IsDefault)
	assert.NotEmpty(t, plan.ID)
}

func TestRouter_Route_AbsentRuleRequiresBranchManager(t *testing.T) {
	env := newTestEnv(t, standardOrg())

	plan, err := env.route("E", RouteOptions{})
	require.NoError(t, err)

	assert.True(t, plan.HasStage(repository.StageBranchManager))
	assert.True(t, plan.Rule.IsDefault)
	assert.True(t, plan.Rule.NeedBranchManagerApproval)
}

func TestRouter_Route_RuleOffOmitsBranchManager(t *testing.T) {
	env := newTestEnv(t, standardOrg())
	env.setRule("HN", false)

	plan, err := env.route("E", RouteOptions{})
	require.NoError(t, err)

	assert.False(t, plan.HasStage(repository.StageBranchManager))
	assert.Equal(t, []repository.StageKind{
		repository.StageManager,
		repository.StageBuyerLeader,
		repository.StageBuyer,
	}, plan.Kinds())
}

func TestRouter_Route_RuleChangeSeenImmediately(t *testing.T) {
	env := newTestEnv(t, standardOrg())

	env.setRule("HN", false)
	plan, err := env.route("E", RouteOptions{})
	require.NoError(t, err)
	assert.False(t, plan.HasStage(repository.StageBranchManager))

	env.setRule("HN", true)
	plan, err = env.route("E", RouteOptions{})
	require.NoError(t, err)
	assert.True(t, plan.HasStage(repository.StageBranchManager))
}

func TestRouter_Route_CycleIsNoResolvableManager(t *testing.T) {
	env := newTestEnv(t, []*repository.Employee{
		employee("A", "HN", "B"),
		employee("B", "HN", "A"),
		employee("BM1", "HN", "", repository.RoleBranchManager),
	})

	for _, code := range []string{"A", "B"} {
		_, err := env.route(code, RouteOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoResolvableManager), "got %v", err)
		assert.Equal(t, errors.ErrCodeRoutingFailed, errors.CodeOf(err))
		assert.Contains(t, err.Error(), "cycle")
	}
}

func TestRouter_Route_BranchManagerFailures(t *testing.T) {
	tests := []struct {
		name    string
		org     []*repository.Employee
		rule    bool
		wantErr error
	}{
		{
			name: "missing branch manager with rule on",
			org: []*repository.Employee{
				employee("M1", "HN", ""),
				employee("E", "HN", "M1"),
			},
			rule:    true,
			wantErr: ErrNoBranchManagerConfigured,
		},
		{
			name: "missing branch manager with rule off",
			org: []*repository.Employee{
				employee("M1", "HN", ""),
				employee("E", "HN", "M1"),
			},
			rule: false,
		},
		{
			name: "two branch managers",
			org: []*repository.Employee{
				employee("BM1", "HN", "", repository.RoleBranchManager),
				employee("BM2", "HN", "", repository.RoleBranchManager),
				employee("E", "HN", "BM1"),
			},
			rule:    true,
			wantErr: ErrAmbiguousBranchManager,
		},
		{
			name: "requester is the branch manager",
			org: []*repository.Employee{
				employee("D", "HN", ""),
				employee("BM1", "HN", "D", repository.RoleBranchManager),
			},
			rule:    true,
			wantErr: ErrSelfApproval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.org)
			env.setRule("HN", tt.rule)

			requester := "E"
			if tt.wantErr == ErrSelfApproval {
				requester = "BM1"
			}
			plan, err := env.route(requester, RouteOptions{})
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.False(t, plan.HasStage(repository.StageBranchManager))
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Nil(t, plan)
		})
	}
}

func TestRouter_Route_ExplicitBranchManagerResolvesAmbiguity(t *testing.T) {
	env := newTestEnv(t, []*repository.Employee{
		employee("BM1", "HN", "", repository.RoleBranchManager),
		employee("BM2", "HN", "", repository.RoleBranchManager),
		employee("E", "HN", "BM1"),
		employee("ADMIN", "HN", "", repository.RoleBGD),
	})
	manager := "BM2"
	_, err := env.orgSvc.UpsertBranch(env.ctx, env.actor("ADMIN"), "HN", "Ha Noi", &manager)
	require.NoError(t, err)
	env.rebuild()

	plan, err := env.route("E", RouteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "BM2", plan.Stages[1].ResponsibleCode)
}

func TestRouter_Route_SamePersonCollapse(t *testing.T) {
	env := newTestEnv(t, []*repository.Employee{
		employee("BM1", "HN", "", repository.RoleBranchManager),
		employee("E", "HN", "BM1"),
	})
	env.setRule("HN", true)

	plan, err := env.route("E", RouteOptions{})
	require.NoError(t, err)

	require.Len(t, plan.Stages, 4)
	assert.Equal(t, "BM1", plan.Stages[0].ResponsibleCode)
	assert.Equal(t, "BM1", plan.Stages[1].ResponsibleCode)
	require.NotNil(t, plan.Stages[1].AutoSatisfiedBy)
	assert.Equal(t, 0, *plan.Stages[1].AutoSatisfiedBy)
}

func TestRouter_Route_ManualManager(t *testing.T) {
	env := newTestEnv(t, []*repository.Employee{
		employee("BM1", "HN", "", repository.RoleBranchManager),
		employee("E", "HN", "GHOST"),
		employee("M2", "HN", "BM1"),
		employee("ADMIN", "HN", "", repository.RoleBGD),
	})
	env.setRule("HN", true)

	_, err := env.route("E", RouteOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoResolvableManager))
	assert.Contains(t, err.Error(), "GHOST")

	_, err = env.route("E", RouteOptions{RoutedBy: env.actor("E"), ManualManagerCode: "M2"})
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	_, err = env.route("E", RouteOptions{RoutedBy: env.actor("ADMIN"), ManualManagerCode: "NOBODY"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = env.route("E", RouteOptions{RoutedBy: env.actor("ADMIN"), ManualManagerCode: "E"})
	assert.True(t, errors.Is(err, ErrSelfApproval))

	plan, err := env.route("E", RouteOptions{RoutedBy: env.actor("ADMIN"), ManualManagerCode: "M2"})
	require.NoError(t, err)
	assert.Equal(t, "M2", plan.Stages[0].ResponsibleCode)
	assert.True(t, plan.Stages[0].ManuallyAssigned)
	assert.Equal(t, "ADMIN", plan.RoutedBy)
}
