package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/httputil"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// NotificationHandler serves the caller's notifications and stock alerts
type NotificationHandler struct {
	shortage *service.ShortageWorkflow
	logger   *logger.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(shortage *service.ShortageWorkflow, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		shortage: shortage,
		logger:   log,
	}
}

// List lists the caller's notifications, ?unread=true for unread only
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	notifications, total, err := h.shortage.ListNotifications(r.Context(), httputil.GetUserID(r.Context()), unreadOnly, page, perPage)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, notifications, httputil.NewMeta(page, perPage, total))
}

// UnreadCount returns the number of unread notifications of the caller
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.shortage.UnreadCount(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]int64{"unread": count})
}

// MarkRead marks one of the caller's notifications as read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	notification, err := h.shortage.MarkRead(r.Context(), chi.URLParam(r, "id"), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, notification)
}

// Scan runs the low stock scan immediately
func (h *NotificationHandler) Scan(w http.ResponseWriter, r *http.Request) {
	created, err := h.shortage.ScanLowStock(r.Context())
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	h.logger.Info().Int("created", created).Str("user_id", httputil.GetUserID(r.Context())).Msg("manual low stock scan")
	httputil.JSON(w, http.StatusOK, map[string]int{"notifications_created": created})
}
