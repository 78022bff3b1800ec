package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/actor"
	"github.com/stockflow/stockflow-backend/pkg/httputil"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// ItemHandler handles catalog and ledger endpoints
type ItemHandler struct {
	catalog *service.CatalogService
	ledger  *service.LedgerService
	logger  *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(catalog *service.CatalogService, ledger *service.LedgerService, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		catalog: catalog,
		ledger:  ledger,
		logger:  log,
	}
}

// CreateItemRequest is the body of POST /items
type CreateItemRequest struct {
	Reference   string          `json:"reference" validate:"required,max=64"`
	Label       string          `json:"label" validate:"required,max=255"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	Unit        string          `json:"unit" validate:"max=32"`
}

// UpdateItemRequest is the body of PUT /items/{id}
type UpdateItemRequest struct {
	Label       *string          `json:"label" validate:"omitempty,min=1,max=255"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	MinQuantity *decimal.Decimal `json:"min_quantity"`
	Unit        *string          `json:"unit" validate:"omitempty,max=32"`
}

// MovementRequest is the body of POST /items/{id}/movements
type MovementRequest struct {
	Kind         string              `json:"kind" validate:"required,oneof=purchase sale transfer adjustment waste return"`
	Quantity     decimal.Decimal     `json:"quantity"`
	UnitPrice    decimal.NullDecimal `json:"unit_price"`
	Reference    *string             `json:"reference" validate:"omitempty,max=128"`
	Notes        *string             `json:"notes"`
	WorkItemType *string             `json:"work_item_type" validate:"omitempty,oneof=task intervention"`
	WorkItemID   *string             `json:"work_item_id"`
	ProjectID    *string             `json:"project_id"`
	SupplierID   *string             `json:"supplier_id"`
}

// ReceiptRequest is the body of POST /items/{id}/receipts
type ReceiptRequest struct {
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	OrderNumber string              `json:"order_number" validate:"required,max=128"`
	SupplierID  *string             `json:"supplier_id"`
}

// List lists stock items. ?search= filters on reference and label,
// ?below_threshold=true keeps only items at or under their minimum.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	belowThreshold, _ := strconv.ParseBool(r.URL.Query().Get("below_threshold"))

	filter := repository.ItemFilter{
		Search:         r.URL.Query().Get("search"),
		BelowThreshold: belowThreshold,
	}

	items, total, err := h.catalog.List(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, items, httputil.NewMeta(page, perPage, total))
}

// Get gets an item by ID
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Create creates a new item
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	item, err := h.catalog.Create(r.Context(), service.CreateItemInput{
		Reference:   req.Reference,
		Label:       req.Label,
		UnitPrice:   req.UnitPrice,
		MinQuantity: req.MinQuantity,
		Unit:        req.Unit,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, item)
}

// Update updates an item
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	item, err := h.catalog.Update(r.Context(), chi.URLParam(r, "id"), service.UpdateItemInput{
		Label:       req.Label,
		UnitPrice:   req.UnitPrice,
		MinQuantity: req.MinQuantity,
		Unit:        req.Unit,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Delete deletes an item
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// RecordMovement posts a movement against an item
func (h *ItemHandler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	links := service.MovementLinks{
		WorkItemID: req.WorkItemID,
		ProjectID:  req.ProjectID,
		SupplierID: req.SupplierID,
	}
	if req.WorkItemType != nil {
		wt := repository.WorkItemType(*req.WorkItemType)
		links.WorkItemType = &wt
	}

	movement, err := h.ledger.Record(r.Context(), service.RecordInput{
		StockItemID: chi.URLParam(r, "id"),
		Kind:        repository.MovementKind(req.Kind),
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		Reference:   req.Reference,
		Notes:       req.Notes,
		Links:       links,
		ActorID:     actor.CurrentActorID(r.Context()),
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, movement)
}

// History lists the movements of an item, newest first
func (h *ItemHandler) History(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)

	movements, total, err := h.ledger.History(r.Context(), chi.URLParam(r, "id"), page, perPage)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, httputil.NewMeta(page, perPage, total))
}

// Audit replays the ledger of an item against its stored quantity
func (h *ItemHandler) Audit(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Receive books goods received against a purchase order
func (h *ItemHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	movement, err := h.ledger.ReceivePurchase(r.Context(), service.ReceiptInput{
		StockItemID: chi.URLParam(r, "id"),
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		OrderNumber: req.OrderNumber,
		SupplierID:  req.SupplierID,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, movement)
}
