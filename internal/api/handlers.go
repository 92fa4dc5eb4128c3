package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
	"price-alerts/internal/events"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/quote"
)

const ownerKey = "owner"

type quoteView struct {
	Price      json.Number `json:"price"`
	Currency   string      `json:"currency"`
	ObservedAt time.Time   `json:"observedAt"`
	Source     string      `json:"source"`
}

type alertView struct {
	ID              int64        `json:"id"`
	UserID          string       `json:"userId"`
	MinPrice        *json.Number `json:"minPrice"`
	MaxPrice        *json.Number `json:"maxPrice"`
	Status          alert.Status `json:"status"`
	LastTriggeredAt *time.Time   `json:"lastTriggeredAt"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	DeletedAt       *time.Time   `json:"deletedAt,omitempty"`
}

// alertRequest distinguishes an absent bound (nil) from an explicit null.
type alertRequest struct {
	MinPrice json.RawMessage `json:"minPrice"`
	MaxPrice json.RawMessage `json:"maxPrice"`
	Status   *string         `json:"status"`
}

func newQuoteView(q quote.Quote) quoteView {
	return quoteView{
		Price:      json.Number(q.Price.String()),
		Currency:   q.Currency,
		ObservedAt: q.ObservedAt,
		Source:     q.Source,
	}
}

func newAlertView(a alert.Alert) alertView {
	return alertView{
		ID:              a.ID,
		UserID:          a.OwnerID,
		MinPrice:        number(a.MinPrice),
		MaxPrice:        number(a.MaxPrice),
		Status:          a.Status,
		LastTriggeredAt: a.LastTriggeredAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		DeletedAt:       a.DeletedAt,
	}
}

func number(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := json.Number(d.Decimal.String())
	return &n
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
		if owner == "" {
			fail(c, http.StatusUnauthorized, "missing "+OwnerHeader+" header")
			c.Abort()
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func (h *handler) respondError(c *gin.Context, err error) {
	switch {
	case alert.IsValidationError(err):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, alert.ErrNotFound):
		fail(c, http.StatusNotFound, "alert not found")
	case fetcher.IsUpstreamError(err):
		h.logger.Warn().Err(err).Msg("upstream price source failed")
		fail(c, http.StatusBadGateway, "price source unavailable")
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) currentPrice(c *gin.Context) {
	q, err := h.quotes.GetCurrentQuote(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, newQuoteView(q))
}

func (h *handler) refreshPrice(c *gin.Context) {
	q, err := h.quotes.InvalidateAndRefetch(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, newQuoteView(q))
}

func (h *handler) createAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != nil {
		fail(c, http.StatusBadRequest, "status cannot be set on create")
		return
	}

	minPrice, err := parseBound("minPrice", req.MinPrice)
	if err != nil {
		h.respondError(c, err)
		return
	}
	maxPrice, err := parseBound("maxPrice", req.MaxPrice)
	if err != nil {
		h.respondError(c, err)
		return
	}

	a, err := h.alerts.Create(c.Request.Context(), c.GetString(ownerKey), alert.Bounds{MinPrice: minPrice, MaxPrice: maxPrice})
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusCreated, newAlertView(a))
}

func (h *handler) listAlerts(c *gin.Context) {
	alerts, err := h.alerts.ListByOwner(c.Request.Context(), c.GetString(ownerKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, newAlertView(a))
	}
	ok(c, http.StatusOK, views)
}

func (h *handler) getAlert(c *gin.Context) {
	a, found := h.ownedAlert(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, newAlertView(a))
}

func (h *handler) updateAlert(c *gin.Context) {
	a, found := h.ownedAlert(c)
	if !found {
		return
	}

	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	var patch alert.Patch
	if req.MinPrice != nil {
		v, err := parseBound("minPrice", req.MinPrice)
		if err != nil {
			h.respondError(c, err)
			return
		}
		patch.MinPrice = &v
	}
	if req.MaxPrice != nil {
		v, err := parseBound("maxPrice", req.MaxPrice)
		if err != nil {
			h.respondError(c, err)
			return
		}
		patch.MaxPrice = &v
	}
	if req.Status != nil {
		status := alert.Status(*req.Status)
		patch.Status = &status
	}

	updated, err := h.alerts.Update(c.Request.Context(), a.ID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, newAlertView(updated))
}

func (h *handler) deleteAlert(c *gin.Context) {
	a, found := h.ownedAlert(c)
	if !found {
		return
	}
	deleted, err := h.alerts.SoftDelete(c.Request.Context(), a.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, newAlertView(deleted))
}

// ownedAlert loads :id and hides alerts of other owners behind a 404.
func (h *handler) ownedAlert(c *gin.Context) (alert.Alert, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid alert id")
		return alert.Alert{}, false
	}
	a, err := h.alerts.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return alert.Alert{}, false
	}
	if a.OwnerID != c.GetString(ownerKey) {
		fail(c, http.StatusNotFound, "alert not found")
		return alert.Alert{}, false
	}
	return a, true
}

func parseBound(field string, raw json.RawMessage) (decimal.NullDecimal, error) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return decimal.NullDecimal{}, nil
	}
	d, err := events.ParseAmount(raw)
	if err != nil {
		return decimal.NullDecimal{}, &alert.ValidationError{Field: field, Reason: "must be a number"}
	}
	return decimal.NewNullDecimal(d), nil
}
