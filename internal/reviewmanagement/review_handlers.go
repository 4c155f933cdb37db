// Package reviewmanagement serves the human review queue.
package reviewmanagement

import (
	"net/http"
	"strconv"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/auth"
	"canonsafe-governance/backend/internal/coreengine/reviewqueue"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
)

// Handlers exposes a review queue over HTTP.
type Handlers struct {
	Queue *reviewqueue.Queue
}

// RegisterRoutes mounts the review routes under rg. Static segments are
// registered before /:id so stats and auto-queue are not read as ids.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	reviewRoutes := rg.Group("/reviews")
	{
		reviewRoutes.GET("", h.ListReviewsHandler)
		reviewRoutes.GET("/stats", h.StatsHandler)
		reviewRoutes.POST("/auto-queue", h.AutoQueueHandler)
		reviewRoutes.GET("/:id", h.GetReviewHandler)
		reviewRoutes.POST("/:id/claim", h.ClaimReviewHandler)
		reviewRoutes.POST("/:id/resolve", h.ResolveReviewHandler)
	}
}

// ListReviewsHandler lists items by status, reason and reviewer, most urgent
// first.
func (h *Handlers) ListReviewsHandler(c *gin.Context) {
	filter := datastore.ReviewFilter{
		Status:   c.Query("status"),
		Reason:   c.Query("reason"),
		Reviewer: c.Query("reviewer"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				apperrors.Respond(c, apperrors.Invalid(name, "%s must be a non-negative integer", name))
				return
			}
			*dst = n
		}
	}
	items, err := h.Queue.List(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// GetReviewHandler returns an item with the eval run under review.
func (h *Handlers) GetReviewHandler(c *gin.Context) {
	detail, err := h.Queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ClaimReviewHandler assigns the item to the authenticated reviewer.
func (h *Handlers) ClaimReviewHandler(c *gin.Context) {
	item, err := h.Queue.Claim(c.Request.Context(), c.Param("id"), auth.Reviewer(c))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ResolveReviewHandler closes an item held by the authenticated reviewer.
func (h *Handlers) ResolveReviewHandler(c *gin.Context) {
	var req reviewqueue.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	item, err := h.Queue.Resolve(c.Request.Context(), c.Param("id"), auth.Reviewer(c), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// AutoQueueHandler back-fills review items for unreviewed runs.
func (h *Handlers) AutoQueueHandler(c *gin.Context) {
	res, err := h.Queue.AutoQueue(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StatsHandler returns queue aggregates.
func (h *Handlers) StatsHandler(c *gin.Context) {
	stats, err := h.Queue.Stats(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
