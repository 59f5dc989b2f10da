package hierarchy

import (
	"context"
	"sync"
	"testing"

	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emp(code, branch, manager string, roles ...repository.Role) *repository.Employee {
	e := &repository.Employee{
		Code:       code,
		FullName:   "Employee " + code,
		Email:      code + "@example.com",
		BranchCode: branch,
		Roles:      roles,
		Active:     true,
	}
	if manager != "" {
		e.DirectManagerCode = &manager
	}
	return e
}

func codes(employees []*repository.Employee) []string {
	out := make([]string, len(employees))
	for i, e := range employees {
		out[i] = e.Code
	}
	return out
}

func kinds(anomalies []Anomaly) []AnomalyKind {
	out := make([]AnomalyKind, len(anomalies))
	for i, a := range anomalies {
		out[i] = a.Kind
	}
	return out
}

func TestResolve_ManagerAndSubordinates(t *testing.T) {
	res := Resolve([]*repository.Employee{
		emp("BM1", "HN", "", repository.RoleBranchManager),
		emp("M1", "HN", "BM1", repository.RoleDepartmentHead),
		emp("E", "HN", "M1", repository.RoleRequestor),
		emp("F", "HN", "M1", repository.RoleRequestor),
	}, nil)

	m, ok := res.ManagerOf("E")
	require.True(t, ok)
	assert.Equal(t, "M1", m.Code)

	_, ok = res.ManagerOf("BM1")
	assert.False(t, ok)

	assert.Equal(t, []string{"E", "F"}, codes(res.SubordinatesOf("M1")))
	assert.Equal(t, []string{"M1", "BM1"}, codes(res.AscendantsOf("E")))
	assert.Empty(t, res.Anomalies())

	bm := res.BranchManager("HN")
	assert.Equal(t, BranchManagerResolved, bm.Status)
	assert.Equal(t, "BM1", bm.Manager.Code)
	assert.False(t, bm.Explicit)
}

func TestResolve_CycleTerminatesAndIsReported(t *testing.T) {
	res := Resolve([]*repository.Employee{
		emp("A", "HN", "B"),
		emp("B", "HN", "A"),
		emp("C", "HN", "A"),
		emp("BM1", "HN", "", repository.RoleBranchManager),
	}, nil)

	_, ok := res.ManagerOf("A")
	assert.False(t, ok)
	_, ok = res.ManagerOf("B")
	assert.False(t, ok)
	assert.True(t, res.InCycle("A"))
	assert.False(t, res.InCycle("C"))

	// C reports into the cycle but is not part of it.
	m, ok := res.ManagerOf("C")
	require.True(t, ok)
	assert.Equal(t, "A", m.Code)
	assert.Equal(t, []string{"A", "B"}, codes(res.AscendantsOf("C")))

	var cyclic []string
	for _, a := range res.Anomalies() {
		if a.Kind == AnomalyCyclicManager {
			cyclic = append(cyclic, a.EmployeeCode)
			assert.Equal(t, []string{"A", "B"}, a.Related)
		}
	}
	assert.ElementsMatch(t, []string{"A", "B"}, cyclic)

	// Cycle edges are cut: both members surface as roots.
	forest := res.Forest("HN")
	var roots []string
	for _, n := range forest {
		roots = append(roots, n.Code)
	}
	assert.ElementsMatch(t, []string{"A", "B", "BM1"}, roots)
}

func TestResolve_SelfManagedIsCycle(t *testing.T) {
	res := Resolve([]*repository.Employee{emp("A", "HN", "A")}, nil)

	assert.True(t, res.InCycle("A"))
	_, ok := res.ManagerOf("A")
	assert.False(t, ok)
	assert.Empty(t, res.AscendantsOf("A"))
}

func TestResolve_LongChainAndLargeCycle(t *testing.T) {
	const n = 5000
	employees := make([]*repository.Employee, 0, n)
	for i := 0; i < n; i++ {
		manager := ""
		if i > 0 {
			manager = codeOf(i - 1)
		}
		employees = append(employees, emp(codeOf(i), "HN", manager))
	}
	// close the chain into one big loop
	first := codeOf(n - 1)
	employees[0].DirectManagerCode = &first

	res := Resolve(employees, nil)
	assert.True(t, res.InCycle(codeOf(0)))
	assert.True(t, res.InCycle(codeOf(n-1)))
	assert.Len(t, res.AscendantsOf(codeOf(10)), n-1)
}

func codeOf(i int) string {
	const digits = "0123456789"
	b := []byte{'E', '0', '0', '0', '0'}
	for p := len(b) - 1; p > 0; p-- {
		b[p] = digits[i%10]
		i /= 10
	}
	return string(b)
}

func TestResolve_OrphanedAndInactiveManagers(t *testing.T) {
	inactive := emp("OLD", "HN", "")
	inactive.Active = false

	res := Resolve([]*repository.Employee{
		emp("E", "HN", "GHOST"),
		emp("F", "HN", "OLD"),
		inactive,
		emp("BM1", "HN", "", repository.RoleBranchManager),
	}, nil)

	_, ok := res.ManagerOf("E")
	assert.False(t, ok)
	_, ok = res.ManagerOf("F")
	assert.False(t, ok)
	_, ok = res.Employee("OLD")
	assert.False(t, ok)

	assert.Equal(t, []AnomalyKind{AnomalyOrphanedManager, AnomalyOrphanedManager}, kinds(res.Anomalies()))
}

func TestResolve_CrossBranchManager(t *testing.T) {
	res := Resolve([]*repository.Employee{
		emp("M1", "HCM", "", repository.RoleBranchManager),
		emp("E", "HN", "M1"),
		emp("BM1", "HN", "", repository.RoleBranchManager),
	}, nil)

	m, ok := res.ManagerOf("E")
	require.True(t, ok)
	assert.Equal(t, "M1", m.Code)
	assert.Equal(t, []AnomalyKind{AnomalyCrossBranchManager}, kinds(res.Anomalies()))

	hn := res.Forest("HN")
	require.Len(t, hn, 2)
	assert.Equal(t, "BM1", hn[0].Code)
	assert.Equal(t, "E", hn[1].Code)
	assert.Equal(t, []AnomalyKind{AnomalyCrossBranchManager}, hn[1].Anomalies)

	hcm := res.Forest("HCM")
	require.Len(t, hcm, 1)
	assert.Empty(t, hcm[0].Reports)
}

func TestResolve_BranchManagerPolicy(t *testing.T) {
	explicit := func(code string) *string { return &code }

	tests := []struct {
		name       string
		employees  []*repository.Employee
		branch     *repository.Branch
		wantStatus BranchManagerStatus
		wantCode   string
		wantKinds  []AnomalyKind
	}{
		{
			name:       "missing",
			employees:  []*repository.Employee{emp("E", "HN", "")},
			wantStatus: BranchManagerMissing,
			wantKinds:  []AnomalyKind{AnomalyMissingBranchManager},
		},
		{
			name: "ambiguous",
			employees: []*repository.Employee{
				emp("BM1", "HN", "", repository.RoleBranchManager),
				emp("BM2", "HN", "", repository.RoleBranchManager),
			},
			wantStatus: BranchManagerAmbiguous,
			wantKinds:  []AnomalyKind{AnomalyDuplicateBranchManager},
		},
		{
			name: "explicit resolves duplicates",
			employees: []*repository.Employee{
				emp("BM1", "HN", "", repository.RoleBranchManager),
				emp("BM2", "HN", "", repository.RoleBranchManager),
			},
			branch:     &repository.Branch{Code: "HN", ManagerCode: explicit("BM2")},
			wantStatus: BranchManagerResolved,
			wantCode:   "BM2",
			wantKinds:  []AnomalyKind{AnomalyDuplicateBranchManager},
		},
		{
			name: "invalid explicit falls back to single holder",
			employees: []*repository.Employee{
				emp("BM1", "HN", "", repository.RoleBranchManager),
				emp("E", "HN", ""),
			},
			branch:     &repository.Branch{Code: "HN", ManagerCode: explicit("E")},
			wantStatus: BranchManagerResolved,
			wantCode:   "BM1",
			wantKinds:  []AnomalyKind{AnomalyInvalidBranchManager},
		},
		{
			name: "explicit manager from another branch is invalid",
			employees: []*repository.Employee{
				emp("X", "HCM", "", repository.RoleBranchManager),
			},
			branch:     &repository.Branch{Code: "HN", ManagerCode: explicit("X")},
			wantStatus: BranchManagerMissing,
			wantKinds:  []AnomalyKind{AnomalyMissingBranchManager, AnomalyInvalidBranchManager},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var branches []*repository.Branch
			if tt.branch != nil {
				branches = append(branches, tt.branch)
			}
			res := Resolve(tt.employees, branches)

			bm := res.BranchManager("HN")
			assert.Equal(t, tt.wantStatus, bm.Status)
			if tt.wantCode != "" {
				require.NotNil(t, bm.Manager)
				assert.Equal(t, tt.wantCode, bm.Manager.Code)
			} else {
				assert.Nil(t, bm.Manager)
			}

			var hn []AnomalyKind
			for _, a := range res.Anomalies() {
				if a.BranchCode == "HN" {
					hn = append(hn, a.Kind)
				}
			}
			assert.Equal(t, tt.wantKinds, hn)
		})
	}
}

func TestResolve_UnknownBranchIsMissing(t *testing.T) {
	res := Resolve(nil, nil)
	assert.Equal(t, BranchManagerMissing, res.BranchManager("NOPE").Status)
	assert.Empty(t, res.Forest("NOPE"))
}

func TestHolder_RebuildPublishesNewGeneration(t *testing.T) {
	ctx := context.Background()
	employees := memory.NewEmployeeRepository()
	branches := memory.NewBranchRepository()
	require.NoError(t, employees.UpsertMany(ctx, []*repository.Employee{emp("M1", "HN", "")}))

	h := NewHolder(employees, branches, logger.Nop())

	first, err := h.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Generation)
	_, ok := first.Employee("E")
	assert.False(t, ok)

	require.NoError(t, employees.UpsertMany(ctx, []*repository.Employee{emp("E", "HN", "M1")}))

	// The published snapshot does not change until a rebuild completes.
	same, err := h.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, first, same)

	h.RebuildAsync()
	h.Wait()

	second, err := h.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Generation)
	m, ok := second.ManagerOf("E")
	require.True(t, ok)
	assert.Equal(t, "M1", m.Code)
}

func TestHolder_ConcurrentFirstReadersShareSnapshot(t *testing.T) {
	ctx := context.Background()
	h := NewHolder(memory.NewEmployeeRepository(), memory.NewBranchRepository(), logger.Nop())

	const readers = 16
	results := make([]*Resolution, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.Current(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	final, err := h.Current(ctx)
	require.NoError(t, err)
	for _, res := range results {
		require.NotNil(t, res)
		assert.LessOrEqual(t, res.Generation, final.Generation)
	}
}
