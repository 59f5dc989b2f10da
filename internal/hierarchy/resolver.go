// Package hierarchy turns the flat employee list into a navigable
// organization structure and reports data-quality anomalies.
//
// The manager graph is held as an arena of nodes indexed by employee code.
// Every node has at most one outgoing edge (its direct manager), so cycle
// detection is a single iterative coloring pass over the arena.
package hierarchy

import (
	"fmt"
	"sort"
	"time"

	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// AnomalyKind classifies an organizational data defect.
type AnomalyKind string

const (
	AnomalyOrphanedManager        AnomalyKind = "ORPHANED_MANAGER"
	AnomalyCyclicManager          AnomalyKind = "CYCLIC_MANAGER"
	AnomalyCrossBranchManager     AnomalyKind = "CROSS_BRANCH_MANAGER"
	AnomalyDuplicateBranchManager AnomalyKind = "DUPLICATE_BRANCH_MANAGER"
	AnomalyMissingBranchManager   AnomalyKind = "MISSING_BRANCH_MANAGER"
	AnomalyInvalidBranchManager   AnomalyKind = "INVALID_BRANCH_MANAGER"
)

var anomalyOrder = map[AnomalyKind]int{
	AnomalyCyclicManager:          0,
	AnomalyOrphanedManager:        1,
	AnomalyCrossBranchManager:     2,
	AnomalyMissingBranchManager:   3,
	AnomalyDuplicateBranchManager: 4,
	AnomalyInvalidBranchManager:   5,
}

// Anomaly is one reported defect. Anomalies are never repaired here.
type Anomaly struct {
	Kind         AnomalyKind `json:"kind"`
	BranchCode   string      `json:"branchCode,omitempty"`
	EmployeeCode string      `json:"employeeCode,omitempty"`
	Related      []string    `json:"related,omitempty"`
	Message      string      `json:"message"`
}

// BranchManagerStatus is the outcome of branch manager resolution.
type BranchManagerStatus string

const (
	BranchManagerResolved  BranchManagerStatus = "RESOLVED"
	BranchManagerMissing   BranchManagerStatus = "MISSING"
	BranchManagerAmbiguous BranchManagerStatus = "AMBIGUOUS"
)

// BranchManager describes who, if anyone, is *the* manager of a branch.
type BranchManager struct {
	BranchCode string
	Status     BranchManagerStatus
	Manager    *repository.Employee
	// Explicit is true when the branch record named the manager.
	Explicit bool
	// Candidates lists every active BRANCH_MANAGER role holder in the branch.
	Candidates []string
}

// TreeNode is one employee in a branch forest.
type TreeNode struct {
	Code      string            `json:"code"`
	FullName  string            `json:"fullName"`
	JobTitle  string            `json:"jobTitle,omitempty"`
	Roles     []repository.Role `json:"roles"`
	Anomalies []AnomalyKind     `json:"anomalies,omitempty"`
	Reports   []*TreeNode       `json:"reports,omitempty"`
}

const noManager = -1

type node struct {
	emp      *repository.Employee
	manager  int // arena index of the direct manager, noManager when absent or unresolvable
	reports  []int
	cyclic   bool
	orphaned bool
	flags    []AnomalyKind
}

// Resolution is an immutable snapshot of the organization.
type Resolution struct {
	Generation uint64
	BuiltAt    time.Time

	nodes          []node
	index          map[string]int
	branches       map[string]*repository.Branch
	byBranch       map[string][]int
	branchManagers map[string]*BranchManager
	anomalies      []Anomaly
}

// Resolve builds a Resolution from active employees and branch records.
// Inactive employees are ignored, so a manager reference pointing at one is
// reported as orphaned. The input slices are not retained.
func Resolve(employees []*repository.Employee, branches []*repository.Branch) *Resolution {
	r := &Resolution{
		BuiltAt:        time.Now(),
		index:          make(map[string]int, len(employees)),
		branches:       make(map[string]*repository.Branch, len(branches)),
		byBranch:       map[string][]int{},
		branchManagers: map[string]*BranchManager{},
	}

	sorted := make([]*repository.Employee, 0, len(employees))
	for _, e := range employees {
		if e != nil && e.Active {
			sorted = append(sorted, e)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	for _, e := range sorted {
		if _, dup := r.index[e.Code]; dup {
			continue
		}
		cp := *e
		r.index[e.Code] = len(r.nodes)
		r.nodes = append(r.nodes, node{emp: &cp, manager: noManager})
		r.byBranch[e.BranchCode] = append(r.byBranch[e.BranchCode], len(r.nodes)-1)
	}
	for _, b := range branches {
		cp := *b
		r.branches[b.Code] = &cp
		if _, ok := r.byBranch[b.Code]; !ok {
			r.byBranch[b.Code] = nil
		}
	}

	r.linkManagers()
	r.detectCycles()
	for _, code := range r.BranchCodes() {
		r.branchManagers[code] = r.resolveBranchManager(code)
	}

	sort.SliceStable(r.anomalies, func(i, j int) bool {
		a, b := r.anomalies[i], r.anomalies[j]
		if anomalyOrder[a.Kind] != anomalyOrder[b.Kind] {
			return anomalyOrder[a.Kind] < anomalyOrder[b.Kind]
		}
		if a.BranchCode != b.BranchCode {
			return a.BranchCode < b.BranchCode
		}
		return a.EmployeeCode < b.EmployeeCode
	})
	return r
}

func (r *Resolution) linkManagers() {
	for i := range r.nodes {
		n := &r.nodes[i]
		code := n.emp.ManagerCode()
		if code == "" {
			continue
		}
		m, ok := r.index[code]
		if !ok {
			n.orphaned = true
			n.flags = append(n.flags, AnomalyOrphanedManager)
			r.report(Anomaly{
				Kind:         AnomalyOrphanedManager,
				BranchCode:   n.emp.BranchCode,
				EmployeeCode: n.emp.Code,
				Related:      []string{code},
				Message:      fmt.Sprintf("manager %q of %q is not an active employee", code, n.emp.Code),
			})
			continue
		}
		n.manager = m
		r.nodes[m].reports = append(r.nodes[m].reports, i)

		if mb := r.nodes[m].emp.BranchCode; mb != n.emp.BranchCode {
			n.flags = append(n.flags, AnomalyCrossBranchManager)
			r.report(Anomaly{
				Kind:         AnomalyCrossBranchManager,
				BranchCode:   n.emp.BranchCode,
				EmployeeCode: n.emp.Code,
				Related:      []string{code},
				Message:      fmt.Sprintf("manager %q of %q belongs to branch %q", code, n.emp.Code, mb),
			})
		}
	}
}

const (
	white = iota
	gray
	black
)

// detectCycles colors the functional manager graph. A walk that reaches a
// gray node has closed a loop; the loop members are the path suffix starting
// at that node. Each node is visited once, so the pass is linear.
func (r *Resolution) detectCycles() {
	color := make([]uint8, len(r.nodes))
	path := make([]int, 0, 16)

	for start := range r.nodes {
		if color[start] != white {
			continue
		}
		path = path[:0]
		cur := start
		for cur != noManager && color[cur] == white {
			color[cur] = gray
			path = append(path, cur)
			cur = r.nodes[cur].manager
		}
		if cur != noManager && color[cur] == gray {
			at := 0
			for path[at] != cur {
				at++
			}
			r.markCycle(path[at:])
		}
		for _, i := range path {
			color[i] = black
		}
	}
}

func (r *Resolution) markCycle(members []int) {
	codes := make([]string, len(members))
	for k, i := range members {
		codes[k] = r.nodes[i].emp.Code
	}
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)

	for _, i := range members {
		n := &r.nodes[i]
		n.cyclic = true
		n.flags = append(n.flags, AnomalyCyclicManager)
		r.report(Anomaly{
			Kind:         AnomalyCyclicManager,
			BranchCode:   n.emp.BranchCode,
			EmployeeCode: n.emp.Code,
			Related:      sorted,
			Message:      fmt.Sprintf("manager chain of %q loops through %v", n.emp.Code, codes),
		})
	}
}

// resolveBranchManager applies the branch manager policy: a valid explicit
// manager on the branch record wins; otherwise exactly one active role holder
// is required. Zero holders is MISSING, more than one is AMBIGUOUS.
func (r *Resolution) resolveBranchManager(code string) *BranchManager {
	bm := &BranchManager{BranchCode: code}
	for _, i := range r.byBranch[code] {
		if r.nodes[i].emp.HasRole(repository.RoleBranchManager) {
			bm.Candidates = append(bm.Candidates, r.nodes[i].emp.Code)
		}
	}
	if len(bm.Candidates) > 1 {
		r.report(Anomaly{
			Kind:       AnomalyDuplicateBranchManager,
			BranchCode: code,
			Related:    bm.Candidates,
			Message:    fmt.Sprintf("branch %q has %d active branch managers", code, len(bm.Candidates)),
		})
	}

	if b, ok := r.branches[code]; ok && b.ManagerCode != nil && *b.ManagerCode != "" {
		explicit := *b.ManagerCode
		if i, ok := r.index[explicit]; ok &&
			r.nodes[i].emp.BranchCode == code &&
			r.nodes[i].emp.HasRole(repository.RoleBranchManager) {
			bm.Status = BranchManagerResolved
			bm.Manager = r.nodes[i].emp
			bm.Explicit = true
			return bm
		}
		r.report(Anomaly{
			Kind:         AnomalyInvalidBranchManager,
			BranchCode:   code,
			EmployeeCode: explicit,
			Message:      fmt.Sprintf("configured manager %q of branch %q is not an active BRANCH_MANAGER of that branch", explicit, code),
		})
	}

	switch len(bm.Candidates) {
	case 0:
		bm.Status = BranchManagerMissing
		r.report(Anomaly{
			Kind:       AnomalyMissingBranchManager,
			BranchCode: code,
			Message:    fmt.Sprintf("branch %q has no active branch manager", code),
		})
	case 1:
		bm.Status = BranchManagerResolved
		bm.Manager = r.nodes[r.index[bm.Candidates[0]]].emp
	default:
		bm.Status = BranchManagerAmbiguous
	}
	return bm
}

func (r *Resolution) report(a Anomaly) {
	r.anomalies = append(r.anomalies, a)
}

// Employee returns the active employee with the given code.
func (r *Resolution) Employee(code string) (*repository.Employee, bool) {
	i, ok := r.index[code]
	if !ok {
		return nil, false
	}
	return r.nodes[i].emp, true
}

// ManagerOf returns the resolvable direct manager of code. Employees that are
// unknown, have no manager, point at a missing manager or sit on a manager
// cycle have none.
func (r *Resolution) ManagerOf(code string) (*repository.Employee, bool) {
	i, ok := r.index[code]
	if !ok {
		return nil, false
	}
	n := r.nodes[i]
	if n.cyclic || n.manager == noManager {
		return nil, false
	}
	return r.nodes[n.manager].emp, true
}

// EmployeesWithRole returns active employees holding role, ordered by code.
func (r *Resolution) EmployeesWithRole(role repository.Role) []*repository.Employee {
	var out []*repository.Employee
	for i := range r.nodes {
		if r.nodes[i].emp.HasRole(role) {
			out = append(out, r.nodes[i].emp)
		}
	}
	return out
}

// InCycle reports whether code sits on a manager cycle.
func (r *Resolution) InCycle(code string) bool {
	i, ok := r.index[code]
	return ok && r.nodes[i].cyclic
}

// SubordinatesOf returns the direct reports of code ordered by code.
func (r *Resolution) SubordinatesOf(code string) []*repository.Employee {
	i, ok := r.index[code]
	if !ok {
		return nil
	}
	out := make([]*repository.Employee, 0, len(r.nodes[i].reports))
	for _, s := range r.nodes[i].reports {
		out = append(out, r.nodes[s].emp)
	}
	return out
}

// AscendantsOf returns the manager chain of code, nearest first. The walk
// stops at the first node already seen, so it terminates on cyclic input.
func (r *Resolution) AscendantsOf(code string) []*repository.Employee {
	i, ok := r.index[code]
	if !ok {
		return nil
	}
	seen := map[int]bool{i: true}
	var out []*repository.Employee
	for cur := r.nodes[i].manager; cur != noManager && !seen[cur] && len(out) < len(r.nodes); cur = r.nodes[cur].manager {
		seen[cur] = true
		out = append(out, r.nodes[cur].emp)
	}
	return out
}

// BranchManager returns the branch manager resolution for a branch. Unknown
// branches are reported as MISSING.
func (r *Resolution) BranchManager(branchCode string) *BranchManager {
	if bm, ok := r.branchManagers[branchCode]; ok {
		return bm
	}
	return &BranchManager{BranchCode: branchCode, Status: BranchManagerMissing}
}

// BranchCodes returns every branch known from records or employees, sorted.
func (r *Resolution) BranchCodes() []string {
	out := make([]string, 0, len(r.byBranch))
	for code := range r.byBranch {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Anomalies returns all detected anomalies in a stable order.
func (r *Resolution) Anomalies() []Anomaly {
	return append([]Anomaly(nil), r.anomalies...)
}

// Size returns the number of active employees in the snapshot.
func (r *Resolution) Size() int { return len(r.nodes) }

// Forest returns the reporting trees of one branch. Roots are employees with
// no manager, an unresolvable manager, a manager in another branch, or a
// place on a manager cycle; cycle edges are cut so the result is acyclic.
func (r *Resolution) Forest(branchCode string) []*TreeNode {
	var roots []*TreeNode
	for _, i := range r.byBranch[branchCode] {
		if r.isRoot(i) {
			roots = append(roots, r.subtree(i))
		}
	}
	return roots
}

// Trees returns the forest of every branch.
func (r *Resolution) Trees() map[string][]*TreeNode {
	out := make(map[string][]*TreeNode, len(r.byBranch))
	for code := range r.byBranch {
		out[code] = r.Forest(code)
	}
	return out
}

func (r *Resolution) isRoot(i int) bool {
	n := r.nodes[i]
	if n.cyclic || n.manager == noManager {
		return true
	}
	return r.nodes[n.manager].emp.BranchCode != n.emp.BranchCode
}

func (r *Resolution) subtree(root int) *TreeNode {
	top := r.treeNode(root)
	type frame struct {
		idx int
		tn  *TreeNode
	}
	stack := []frame{{root, top}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range r.nodes[f.idx].reports {
			if r.isRoot(c) {
				continue
			}
			child := r.treeNode(c)
			f.tn.Reports = append(f.tn.Reports, child)
			stack = append(stack, frame{c, child})
		}
	}
	return top
}

func (r *Resolution) treeNode(i int) *TreeNode {
	e := r.nodes[i].emp
	return &TreeNode{
		Code:      e.Code,
		FullName:  e.FullName,
		JobTitle:  e.JobTitle,
		Roles:     e.Roles,
		Anomalies: r.nodes[i].flags,
	}
}
