package approvalsv1

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

func TestEncodeDecode_KeepsOptionalFields(t *testing.T) {
	stage := 2
	in := ApplyDecisionRequest{ID: "pr-1", Decision: "APPROVE", ExpectedStage: &stage}

	s, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, float64(2), s.Fields["expectedStage"].GetNumberValue())
	_, hasReason := s.Fields["reason"]
	assert.False(t, hasReason)

	var out ApplyDecisionRequest
	require.NoError(t, Decode(s, &out))
	require.NotNil(t, out.ExpectedStage)
	assert.Equal(t, 2, *out.ExpectedStage)
	assert.Equal(t, in.ID, out.ID)
}

func TestEncode_RejectsNonObjects(t *testing.T) {
	_, err := Encode([]string{"a"})
	assert.Error(t, err)
}

func TestDecode_NilStruct(t *testing.T) {
	var out GetRuleRequest
	require.NoError(t, Decode(nil, &out))
	assert.Empty(t, out.BranchCode)
}

func TestFromPurchaseRequest(t *testing.T) {
	pr := &repository.PurchaseRequest{
		ID:            "pr-1",
		RequesterCode: "E",
		Amount:        decimal.RequireFromString("1250.50"),
		Currency:      "VND",
		Status:        repository.Pending(repository.StageBranchManager),
		CurrentStage:  1,
		Version:       3,
		Plan: &repository.ApprovalPlan{
			ID: "plan-1",
			Stages: []repository.PlanStage{
				{Index: 0, Kind: repository.StageManager, ResponsibleCode: "M1"},
				{Index: 1, Kind: repository.StageBranchManager, ResponsibleCode: "BM1"},
			},
		},
	}

	out := FromPurchaseRequest(pr)
	assert.Equal(t, "1250.5", out.Amount)
	assert.Equal(t, "BRANCH_MANAGER_PENDING", out.Status)
	assert.Equal(t, "BRANCH_MANAGER", out.CurrentStageKind)
	require.NotNil(t, out.Plan)
	assert.Equal(t, "BM1", out.Plan.Stages[1].ResponsibleCode)
	assert.Nil(t, out.Plan.Rule.UpdatedAt)

	assert.Nil(t, FromPurchaseRequest(nil))
}
