package handler

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
)

// TicketHandler serves read-only views of the ticket store. It reads without
// taking part in the bot's per-ticket serialization, so results may lag a moment.
type TicketHandler struct {
	registry *ticket.Registry
	kv       store.KV
}

func NewTicketHandler(registry *ticket.Registry, kv store.KV) *TicketHandler {
	return &TicketHandler{registry: registry, kv: kv}
}

func (h *TicketHandler) List(c *gin.Context) {
	items, err := h.registry.List(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	if v := c.Query("status"); v != "" {
		filtered := items[:0]
		for _, t := range items {
			if string(t.Status) == v {
				filtered = append(filtered, t)
			}
		}
		items = filtered
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	total := len(items)

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	if offset > len(items) {
		offset = len(items)
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

func (h *TicketHandler) Get(c *gin.Context) {
	number := c.Param("number")
	if _, err := strconv.Atoi(number); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket number"})
		return
	}
	t, err := h.registry.Get(c.Request.Context(), c.Param("user_id"), number)
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Claim(c *gin.Context) {
	var cl model.Claim
	if err := h.kv.Get(c.Request.Context(), store.ClaimKey(c.Param("channel_id")), &cl); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel is not claimed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cl)
}
