package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stockflow/stockflow-backend/pkg/httputil"
	"github.com/stockflow/stockflow-backend/pkg/permissions"
)

// Handlers groups the handlers mounted under /api/v1/stock
type Handlers struct {
	Items         *ItemHandler
	Allocations   *AllocationHandler
	Notifications *NotificationHandler
}

// Routes registers the stock API. Callers must already be authenticated.
func (h *Handlers) Routes(r chi.Router) {
	can := httputil.RequireCapability

	r.Route("/items", func(r chi.Router) {
		r.With(can(permissions.ModuleStock, permissions.ActionRead)).Get("/", h.Items.List)
		r.With(can(permissions.ModuleStock, permissions.ActionWrite)).Post("/", h.Items.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(can(permissions.ModuleStock, permissions.ActionRead))
				r.Get("/", h.Items.Get)
				r.Get("/movements", h.Items.History)
				r.Get("/audit", h.Items.Audit)
			})
			r.Group(func(r chi.Router) {
				r.Use(can(permissions.ModuleStock, permissions.ActionWrite))
				r.Put("/", h.Items.Update)
				r.Delete("/", h.Items.Delete)
			})
			r.Group(func(r chi.Router) {
				r.Use(can(permissions.ModuleStock, permissions.ActionMove))
				r.Post("/movements", h.Items.RecordMovement)
				r.Post("/receipts", h.Items.Receive)
			})
		})
	})

	r.Route("/allocations", func(r chi.Router) {
		r.With(can(permissions.ModuleAllocation, permissions.ActionWrite)).Post("/", h.Allocations.Plan)

		r.Route("/{id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(can(permissions.ModuleAllocation, permissions.ActionRead))
				r.Get("/", h.Allocations.Get)
				r.Get("/shortage", h.Allocations.Shortage)
			})
			r.Group(func(r chi.Router) {
				r.Use(can(permissions.ModuleAllocation, permissions.ActionWrite))
				r.Delete("/", h.Allocations.Delete)
				r.Post("/additional", h.Allocations.AddAdditional)
				r.Post("/consumption", h.Allocations.RecordConsumption)
				r.Post("/justification", h.Allocations.Justify)
			})
			r.Group(func(r chi.Router) {
				r.Use(can(permissions.ModuleAllocation, permissions.ActionSettle))
				r.Post("/settle", h.Allocations.Settle)
				r.Post("/reverse", h.Allocations.Reverse)
			})
		})
	})

	r.Route("/work-items/{type}/{workItemID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(can(permissions.ModuleAllocation, permissions.ActionRead))
			r.Get("/allocations", h.Allocations.ListByWorkItem)
			r.Get("/availability", h.Allocations.Availability)
		})
		r.Group(func(r chi.Router) {
			r.Use(can(permissions.ModuleAllocation, permissions.ActionSettle))
			r.Post("/complete", h.Allocations.Complete)
			r.Post("/reopen", h.Allocations.Reopen)
		})
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Use(can(permissions.ModuleNotification, permissions.ActionRead))
		r.Get("/", h.Notifications.List)
		r.Get("/unread-count", h.Notifications.UnreadCount)
		r.Put("/{id}/read", h.Notifications.MarkRead)
	})

	r.With(can(permissions.ModuleStock, permissions.ActionManage)).Post("/alerts/scan", h.Notifications.Scan)
}

// Mount returns a handler serving the stock API behind authentication
func (h *Handlers) Mount(authenticate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authenticate)
	h.Routes(r)
	return r
}
