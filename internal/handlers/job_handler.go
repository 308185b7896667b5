package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"revenue-service/internal/jobs"
	"revenue-service/pkg/common"
)

type TransactionSyncRequest struct {
	StartFromID string `json:"start_from_id"`
}

// TriggerTransactionSync queues an ingestion run. An empty body resumes from
// the stored watermark.
func (h *Handler) TriggerTransactionSync(c *gin.Context) {
	var req TransactionSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
			return
		}
	}
	h.enqueue(c, jobs.TransactionSync, req.StartFromID)
}

func (h *Handler) trigger(job string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.enqueue(c, job, "")
	}
}

func (h *Handler) enqueue(c *gin.Context, job, startFromID string) {
	if err := h.Jobs.EnqueueJob(c.Request.Context(), job, startFromID); err != nil {
		h.Logger.Error("Failed to queue job", zap.String("job", job), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, common.NewErrorResponse("Failed to queue job", nil, http.StatusServiceUnavailable))
		return
	}
	c.JSON(http.StatusAccepted, common.NewAcceptedResponse(gin.H{"job": job}, "Job queued"))
}
