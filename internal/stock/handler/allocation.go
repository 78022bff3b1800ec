package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/httputil"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// AllocationHandler handles allocation and work item endpoints
type AllocationHandler struct {
	engine   *service.AllocationEngine
	shortage *service.ShortageWorkflow
	logger   *logger.Logger
}

// NewAllocationHandler creates a new allocation handler
func NewAllocationHandler(engine *service.AllocationEngine, shortage *service.ShortageWorkflow, log *logger.Logger) *AllocationHandler {
	return &AllocationHandler{
		engine:   engine,
		shortage: shortage,
		logger:   log,
	}
}

// PlanRequest is the body of POST /allocations
type PlanRequest struct {
	WorkItemType      string          `json:"work_item_type" validate:"required,oneof=task intervention"`
	WorkItemID        string          `json:"work_item_id" validate:"required"`
	ProjectID         *string         `json:"project_id"`
	StockItemID       string          `json:"stock_item_id" validate:"required"`
	EstimatedQuantity decimal.Decimal `json:"estimated_quantity"`
	UnitType          string          `json:"unit_type" validate:"max=32"`
}

// AdditionalRequest is the body of POST /allocations/{id}/additional
type AdditionalRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Justification string          `json:"justification" validate:"required"`
	RequestType   string          `json:"request_type" validate:"max=32"`
}

// ConsumptionRequest is the body of POST /allocations/{id}/consumption
type ConsumptionRequest struct {
	ActualUsed    decimal.Decimal     `json:"actual_quantity_used"`
	Remaining     decimal.NullDecimal `json:"remaining_quantity"`
	ReturnToStock bool                `json:"return_to_stock"`
}

// JustificationRequest is the body of POST /allocations/{id}/justification
type JustificationRequest struct {
	Justification string `json:"justification" validate:"required"`
	Urgent        bool   `json:"urgent"`
}

// Plan reserves an item for a work item
func (h *AllocationHandler) Plan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	record, err := h.engine.Plan(r.Context(), service.PlanInput{
		WorkItem:          repository.WorkItem{Type: repository.WorkItemType(req.WorkItemType), ID: req.WorkItemID},
		ProjectID:         req.ProjectID,
		StockItemID:       req.StockItemID,
		EstimatedQuantity: req.EstimatedQuantity,
		UnitType:          req.UnitType,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, record)
}

// Get gets an allocation record by ID
func (h *AllocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Delete removes a record that never posted a movement
func (h *AllocationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// AddAdditional raises the quantity of a record
func (h *AllocationHandler) AddAdditional(w http.ResponseWriter, r *http.Request) {
	var req AdditionalRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	record, err := h.engine.AddAdditionalQuantity(r.Context(), chi.URLParam(r, "id"), service.AdditionalInput{
		Amount:        req.Amount,
		Justification: req.Justification,
		RequestType:   req.RequestType,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// RecordConsumption stores what a work item actually used
func (h *AllocationHandler) RecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req ConsumptionRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	record, err := h.engine.RecordConsumption(r.Context(), chi.URLParam(r, "id"), service.ConsumptionInput{
		ActualUsed:    req.ActualUsed,
		Remaining:     req.Remaining,
		ReturnToStock: req.ReturnToStock,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Justify accepts a shortage on a flagged record
func (h *AllocationHandler) Justify(w http.ResponseWriter, r *http.Request) {
	var req JustificationRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	record, err := h.shortage.RequestJustification(r.Context(), chi.URLParam(r, "id"), service.JustificationInput{
		Text:   req.Justification,
		Urgent: req.Urgent,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Shortage evaluates a record against the stock on hand
func (h *AllocationHandler) Shortage(w http.ResponseWriter, r *http.Request) {
	status, err := h.shortage.EvaluateRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, status)
}

// Settle posts the consumption of a record to the ledger
func (h *AllocationHandler) Settle(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Settle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Reverse undoes the postings of a settled record
func (h *AllocationHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	record, err := h.engine.Reverse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// ListByWorkItem lists the records of a work item
func (h *AllocationHandler) ListByWorkItem(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.ListByWorkItem(r.Context(), workItemParam(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

// Availability reports whether the stock on hand covers a work item
func (h *AllocationHandler) Availability(w http.ResponseWriter, r *http.Request) {
	availability, err := h.engine.CheckAvailability(r.Context(), workItemParam(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, availability)
}

// Complete settles every open record of a work item
func (h *AllocationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.CompleteWorkItem(r.Context(), workItemParam(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, results)
}

// Reopen reverses every settled record of a work item
func (h *AllocationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.ReopenWorkItem(r.Context(), workItemParam(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

func workItemParam(r *http.Request) repository.WorkItem {
	return repository.WorkItem{
		Type: repository.WorkItemType(chi.URLParam(r, "type")),
		ID:   chi.URLParam(r, "workItemID"),
	}
}
