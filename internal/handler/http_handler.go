package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-pr-approvals/internal/auth"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/logger"
	pb "github.com/pesio-ai/be-pr-approvals/internal/proto/approvalsv1"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
	"github.com/pesio-ai/be-pr-approvals/internal/service"
)

// maxBodyBytes bounds request bodies; employee imports are the largest.
const maxBodyBytes = 8 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	requests *service.PurchaseRequestService
	rules    *service.RuleService
	org      *service.OrganizationService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(requests *service.PurchaseRequestService, rules *service.RuleService, org *service.OrganizationService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		requests: requests,
		rules:    rules,
		org:      org,
		log:      log.Component("http"),
	}
}

// Register mounts every API route on r.
func (h *HTTPHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/purchase-requests", h.CreatePurchaseRequest).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests/{id}", h.GetPurchaseRequest).Methods(http.MethodGet)
	api.HandleFunc("/purchase-requests/{id}", h.UpdatePurchaseRequest).Methods(http.MethodPut)
	api.HandleFunc("/purchase-requests/{id}/submit", h.SubmitPurchaseRequest).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests/{id}/decisions", h.ApplyDecision).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests/{id}/reassign", h.Reassign).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests/{id}/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/purchase-requests/{id}/assignment", h.GetAssignment).Methods(http.MethodGet)
	api.HandleFunc("/approvals/pending", h.ListPending).Methods(http.MethodGet)

	api.HandleFunc("/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/branches", h.ListBranches).Methods(http.MethodGet)
	api.HandleFunc("/branches/{code}", h.UpsertBranch).Methods(http.MethodPut)
	api.HandleFunc("/branches/{code}/rule", h.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/branches/{code}/rule", h.SetRule).Methods(http.MethodPut)

	api.HandleFunc("/organization/hierarchy", h.GetHierarchy).Methods(http.MethodGet)
	api.HandleFunc("/organization/employees/import", h.ImportEmployees).Methods(http.MethodPost)
}

// ── Purchase requests ────────────────────────────────────────────────────────

// CreatePurchaseRequest creates a draft owned by the caller.
func (h *HTTPHandler) CreatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := toInput(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	pr, err := h.requests.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pb.FromPurchaseRequest(pr))
}

// GetPurchaseRequest returns one purchase request.
func (h *HTTPHandler) GetPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	pr, err := h.requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromPurchaseRequest(pr))
}

// UpdatePurchaseRequest edits a draft or returned request.
func (h *HTTPHandler) UpdatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := toInput(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	pr, err := h.requests.UpdateDetails(r.Context(), mux.Vars(r)["id"], actor, in, req.Version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromPurchaseRequest(pr))
}

// SubmitPurchaseRequest routes and submits a request.
func (h *HTTPHandler) SubmitPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.SubmitRequestRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	pr, err := h.requests.Submit(r.Context(), mux.Vars(r)["id"], actor, service.SubmitOptions{
		ManualManagerCode: strings.TrimSpace(req.ManualManagerCode),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromPurchaseRequest(pr))
}

// ApplyDecision applies one decision to the current stage.
func (h *HTTPHandler) ApplyDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.ApplyDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := toDecision(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	pr, err := h.requests.Apply(r.Context(), mux.Vars(r)["id"], actor, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromPurchaseRequest(pr))
}

// Reassign moves the buying stage to another buyer.
func (h *HTTPHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.ReassignRequest
	if !h.decode(w, r, &req) {
		return
	}

	pr, err := h.requests.Reassign(r.Context(), mux.Vars(r)["id"], actor, strings.TrimSpace(req.Assignee), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromPurchaseRequest(pr))
}

// GetHistory returns the decision history and every plan the request had.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	entries, err := h.requests.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	plans, err := h.requests.Plans(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := pb.HistoryResponse{PurchaseRequestID: id, Entries: pb.FromHistory(entries)}
	for _, p := range plans {
		resp.Plans = append(resp.Plans, pb.FromPlan(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAssignment returns the active buyer assignment.
func (h *HTTPHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	a, err := h.requests.ActiveAssignment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if a == nil {
		h.fail(w, r, errors.NotFound("assignment", mux.Vars(r)["id"]))
		return
	}
	writeJSON(w, http.StatusOK, pb.FromAssignment(a))
}

// ListPending lists the requests awaiting the caller.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	prs, err := h.requests.ListPending(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.ListResponse{PurchaseRequests: pb.FromPurchaseRequests(prs), Total: len(prs)})
}

// ── Governance ───────────────────────────────────────────────────────────────

// GetRule returns a branch rule, or the fail-safe default.
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	rule, err := h.rules.GetRule(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromRule(rule))
}

// SetRule replaces a branch rule.
func (h *HTTPHandler) SetRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.SetRuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.rules.SetRule(r.Context(), mux.Vars(r)["code"], req.NeedBranchManagerApproval, req.Note, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromRule(rule))
}

// ListRules returns every stored rule.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	rules, err := h.rules.ListRules(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := pb.RulesResponse{Rules: []*pb.Rule{}}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, pb.FromRule(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Organization ─────────────────────────────────────────────────────────────

// ListBranches returns every branch.
func (h *HTTPHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	branches, err := h.org.ListBranches(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]*pb.Branch, 0, len(branches))
	for _, b := range branches {
		out = append(out, pb.FromBranch(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"branches": out})
}

// UpsertBranch creates or replaces a branch.
func (h *HTTPHandler) UpsertBranch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.UpsertBranchRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.org.UpsertBranch(r.Context(), actor, mux.Vars(r)["code"], req.Name, req.ManagerCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromBranch(b))
}

// GetHierarchy renders the current hierarchy snapshot, optionally for one
// branch (?branch=HN).
func (h *HTTPHandler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	res, err := h.org.ResolveHierarchy(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pb.FromResolution(res, strings.TrimSpace(r.URL.Query().Get("branch"))))
}

// ImportEmployees applies an employee batch.
func (h *HTTPHandler) ImportEmployees(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req pb.ImportEmployeesRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.org.ImportEmployees(r.Context(), actor, req.Rows, req.DeactivateMissing)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (repository.Actor, bool) {
	actor, err := auth.RequireActor(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return repository.Actor{}, false
	}
	return actor, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.fail(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	evt := h.log.Warn()
	if status >= http.StatusInternalServerError {
		evt = h.log.Error()
	}
	evt.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")

	body := map[string]string{"code": string(errors.CodeOf(err)), "message": err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Field != "" {
		body["field"] = appErr.Field
	}
	if status == http.StatusInternalServerError {
		body["message"] = "internal server error"
	}
	writeJSON(w, status, body)
}

func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeRoutingFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toInput(req pb.CreateRequest) (service.PurchaseRequestInput, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return service.PurchaseRequestInput{}, errors.InvalidInput("amount", "must be a decimal number")
	}
	return service.PurchaseRequestInput{
		Title:       req.Title,
		Category:    req.Category,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
	}, nil
}

func toDecision(req pb.ApplyDecisionRequest) (service.DecisionInput, error) {
	d, err := repository.ParseDecision(req.Decision)
	if err != nil {
		return service.DecisionInput{}, errors.InvalidInput("decision", err.Error())
	}
	return service.DecisionInput{
		Decision:      d,
		Reason:        req.Reason,
		ExpectedStage: req.ExpectedStage,
		Assignee:      strings.TrimSpace(req.Assignee),
	}, nil
}
