package service

import (
	"context"
	"sync"
	"testing"

	"github.com/pesio-ai/be-pr-approvals/internal/hierarchy"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	EventType  string
	PRID       string
	ActorCode  string
	Recipients []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishPurchaseRequestEvent(_ context.Context, eventType, prID, _, actorCode string, recipients []string, _ map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{EventType: eventType, PRID: prID, ActorCode: actorCode, Recipients: recipients})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	employees *memory.EmployeeRepository
	branches  *memory.BranchRepository
	rules     *memory.RulesRepository
	prs       *memory.PurchaseRequestRepository
	holder    *hierarchy.Holder
	ruleSvc   *RuleService
	router    *Router
	machine   *StateMachine
	prSvc     *PurchaseRequestService
	orgSvc    *OrganizationService
	events    *recordingPublisher
}

func employee(code, branch, manager string, roles ...repository.Role) *repository.Employee {
	e := &repository.Employee{
		Code:           code,
		FullName:       "Employee " + code,
		Email:          code + "@example.com",
		BranchCode:     branch,
		DepartmentCode: "OPS",
		Roles:          roles,
		Active:         true,
	}
	if manager != "" {
		e.DirectManagerCode = &manager
	}
	return e
}

// standardOrg is branch HN: E reports to M1, M1 to BM1. BL leads the
// buyers B1 and B2; ADMIN holds BGD.
func standardOrg() []*repository.Employee {
	return []*repository.Employee{
		employee("BM1", "HN", "", repository.RoleBranchManager),
		employee("M1", "HN", "BM1", repository.RoleDepartmentHead),
		employee("E", "HN", "M1", repository.RoleRequestor),
		employee("BL", "HN", "BM1", repository.RoleBuyerLeader),
		employee("B1", "HN", "BL", repository.RoleBuyer),
		employee("B2", "HN", "BL", repository.RoleBuyer),
		employee("ADMIN", "HN", "", repository.RoleBGD),
	}
}

func newTestEnv(t *testing.T, employees []*repository.Employee) *testEnv {
	t.Helper()
	log := logger.Nop()

	env := &testEnv{
		t:         t,
		ctx:       context.Background(),
		employees: memory.NewEmployeeRepository(),
		branches:  memory.NewBranchRepository(),
		rules:     memory.NewRulesRepository(),
		prs:       memory.NewPurchaseRequestRepository(),
		machine:   NewStateMachine(),
		events:    &recordingPublisher{},
	}
	require.NoError(t, env.employees.UpsertMany(env.ctx, employees))

	env.holder = hierarchy.NewHolder(env.employees, env.branches, log)
	env.ruleSvc = NewRuleService(env.rules, log)
	env.router = NewRouter(env.holder, env.ruleSvc, log)
	env.prSvc = NewPurchaseRequestService(
		env.prs, env.prs, env.prs, env.prs, env.employees,
		env.holder, env.router, env.machine, env.events, log,
	)
	env.orgSvc = NewOrganizationService(env.employees, env.branches, env.holder, log)

	env.rebuild()
	return env
}

func (env *testEnv) rebuild() {
	env.t.Helper()
	env.holder.Wait()
	_, err := env.holder.Rebuild(env.ctx)
	require.NoError(env.t, err)
}

func (env *testEnv) actor(code string) repository.Actor {
	env.t.Helper()
	e, err := env.employees.GetByCode(env.ctx, code)
	require.NoError(env.t, err)
	return repository.Actor{Code: e.Code, Roles: e.Roles}
}

func (env *testEnv) setRule(branch string, need bool) {
	env.t.Helper()
	admin := repository.Actor{Code: "ADMIN", Roles: []repository.Role{repository.RoleBGD}}
	_, err := env.ruleSvc.SetRule(env.ctx, branch, need, "", admin)
	require.NoError(env.t, err)
}

func (env *testEnv) draft(requester string) *repository.PurchaseRequest {
	env.t.Helper()
	pr, err := env.prSvc.Create(env.ctx, env.actor(requester), PurchaseRequestInput{
		Title:    "Laptops",
		Category: "IT",
		Amount:   decimal.RequireFromString("1250.50"),
		Currency: "vnd",
	})
	require.NoError(env.t, err)
	return pr
}

func (env *testEnv) submitted(requester string) *repository.PurchaseRequest {
	env.t.Helper()
	pr := env.draft(requester)
	pr, err := env.prSvc.Submit(env.ctx, pr.ID, env.actor(requester), SubmitOptions{})
	require.NoError(env.t, err)
	return pr
}

func (env *testEnv) decide(id, actor string, d repository.Decision, reason, assignee string) (*repository.PurchaseRequest, error) {
	return env.prSvc.Apply(env.ctx, id, env.actor(actor), DecisionInput{Decision: d, Reason: reason, Assignee: assignee})
}

// assertConsistent checks that a purchase request either has exactly one
// current plan stage or none at all.
func assertConsistent(t *testing.T, pr *repository.PurchaseRequest) {
	t.Helper()
	if pr.Status.IsPending() {
		require.NotNil(t, pr.Plan)
		stage := pr.Plan.Stage(pr.CurrentStage)
		require.NotNil(t, stage, "pending purchase request must point at a plan stage")
		assert.Equal(t, pr.Status.Stage, stage.Kind)
		return
	}
	assert.Equal(t, repository.NoStage, pr.CurrentStage)
	assert.Nil(t, pr.Current())
}
