package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ordermod-billing/internal/domain"
	svc "ordermod-billing/internal/service/changerequest"
	"ordermod-billing/internal/telemetry"
)

type lifecycleService interface {
	Open(ctx context.Context, in svc.OpenInput) (*domain.ChangeRequest, error)
	SendInvoice(ctx context.Context, id string) (*domain.ChangeRequest, error)
	Resend(ctx context.Context, id string) (*domain.ChangeRequest, error)
	CheckPaymentStatus(ctx context.Context, id string) (*domain.ChangeRequest, error)
	MarkPaid(ctx context.Context, id, method string) (*domain.ChangeRequest, error)
	Cancel(ctx context.Context, id, reason string) (*domain.ChangeRequest, error)
	Apply(ctx context.Context, id string) (*domain.ChangeRequest, error)
	Get(ctx context.Context, id string) (*domain.ChangeRequest, error)
	List(ctx context.Context, status domain.Status, limit int) ([]domain.ChangeRequest, error)
	Stats(ctx context.Context) (map[domain.Status]int, error)
}

type handlers struct {
	svc     lifecycleService
	metrics *telemetry.Metrics
}

func (h *handlers) open(c *gin.Context) {
	var in svc.OpenInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cr, err := h.svc.Open(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	h.count(func(m *telemetry.Metrics) { m.RequestsOpened.WithLabelValues(string(cr.Kind)).Inc() })
	c.JSON(http.StatusCreated, cr)
}

func (h *handlers) get(c *gin.Context) {
	cr, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cr)
}

func (h *handlers) list(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	list, err := h.svc.List(c.Request.Context(), domain.Status(c.Query("status")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(list), "results": list})
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) sendInvoice(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string) (*domain.ChangeRequest, error) {
		return h.svc.SendInvoice(ctx, id)
	})
}

func (h *handlers) resend(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string) (*domain.ChangeRequest, error) {
		return h.svc.Resend(ctx, id)
	})
}

func (h *handlers) checkPayment(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string) (*domain.ChangeRequest, error) {
		return h.svc.CheckPaymentStatus(ctx, id)
	})
}

func (h *handlers) markPaid(c *gin.Context) {
	var body struct {
		Method string `json:"method"`
	}
	// Body is optional; an empty method means a generic manual override.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	h.transition(c, func(ctx context.Context, id string) (*domain.ChangeRequest, error) {
		return h.svc.MarkPaid(ctx, id, body.Method)
	})
}

func (h *handlers) cancel(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	h.transition(c, func(ctx context.Context, id string) (*domain.ChangeRequest, error) {
		return h.svc.Cancel(ctx, id, body.Reason)
	})
}

func (h *handlers) apply(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string) (*domain.ChangeRequest, error) {
		return h.svc.Apply(ctx, id)
	})
}

func (h *handlers) transition(c *gin.Context, op func(context.Context, string) (*domain.ChangeRequest, error)) {
	id := c.Param("id")

	// Idempotent re-hits and status probes return 200 without moving the
	// request, so only count calls where the stored status actually changed.
	var prior domain.Status
	if before, err := h.svc.Get(c.Request.Context(), id); err == nil {
		prior = before.Status
	}

	cr, err := op(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if cr.Status != prior {
		h.count(func(m *telemetry.Metrics) { m.Transitions.WithLabelValues(string(cr.Status)).Inc() })
	}
	c.JSON(http.StatusOK, cr)
}

func (h *handlers) count(record func(*telemetry.Metrics)) {
	if h.metrics != nil {
		record(h.metrics)
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrActiveRequestExists),
		errors.Is(err, domain.ErrInvalidStateTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExpiredRequest):
		status = http.StatusGone
	case errors.Is(err, domain.ErrNoEffectiveChange),
		errors.Is(err, domain.ErrAmountOverflow):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRateUnavailable),
		errors.Is(err, domain.ErrMalformedRate),
		errors.Is(err, domain.ErrCheckoutGateway),
		errors.Is(err, domain.ErrNotificationGateway):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
