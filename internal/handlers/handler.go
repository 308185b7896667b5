package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"revenue-service/internal/jobs"
	"revenue-service/internal/models"
	"revenue-service/internal/refund"
	"revenue-service/pkg/common"
)

// RefundService is the refund engine as seen by the admin API.
type RefundService interface {
	Create(ctx context.Context, in refund.CreateInput) (*models.RefundAuthorizationRequest, error)
	RequestCashout(ctx context.Context, in refund.CashoutInput) (*models.RefundAuthorizationRequest, error)
	RequestDamageRefund(ctx context.Context, in refund.DamageInput) (*models.RefundAuthorizationRequest, error)
	Approve(ctx context.Context, id uint, approvedBy string) (*refund.Outcome, error)
	Reject(ctx context.Context, id uint, rejectedBy string) (*models.RefundAuthorizationRequest, error)
	ChangeChannel(ctx context.Context, id uint, channel models.RefundChannel) (*models.RefundAuthorizationRequest, error)
	ListPending(ctx context.Context, offset, limit int) ([]models.RefundAuthorizationRequest, int64, error)
}

// JobQueue triggers a pipeline job out of band.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job, startFromID string) error
}

type Handler struct {
	Refunds RefundService
	Jobs    JobQueue
	Logger  *zap.Logger
}

func NewHandler(refunds RefundService, jobs JobQueue, logger *zap.Logger) *Handler {
	return &Handler{Refunds: refunds, Jobs: jobs, Logger: logger}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome To Revenue service",
		})
	})

	triggers := r.Group("/jobs")
	triggers.POST("/transactions/sync", h.TriggerTransactionSync)
	triggers.POST("/users/sync", h.trigger(jobs.UserSync))
	triggers.POST("/match", h.trigger(jobs.Matching))
	triggers.POST("/checks/attribute", h.trigger(jobs.CheckAttribution))
	triggers.POST("/pools/process", h.trigger(jobs.PoolProcessing))
	triggers.POST("/refunds/sweep", h.trigger(jobs.SettlementSweep))

	requests := r.Group("/refund-requests")
	requests.GET("", h.ListPending)
	requests.POST("", h.CreateRefundRequest)
	requests.POST("/cashout", h.RequestCashout)
	requests.POST("/damage", h.RequestDamageRefund)
	requests.POST("/:id/approve", h.Approve)
	requests.POST("/:id/reject", h.Reject)
	requests.POST("/:id/channel", h.ChangeChannel)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var exceeded *refund.TotalBalanceExceededError
	var changed *refund.BalanceChangedError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, refund.ErrInvalidAmount),
		errors.Is(err, refund.ErrInvalidChannel),
		errors.Is(err, refund.ErrInvalidAggregator),
		errors.Is(err, refund.ErrInvalidAdditionalBonus),
		errors.Is(err, refund.ErrApproveAndReject):
		return http.StatusBadRequest
	case errors.Is(err, refund.ErrAlreadyDecided),
		errors.Is(err, refund.ErrChannelLocked),
		errors.Is(err, refund.ErrNotApproved):
		return http.StatusConflict
	case errors.As(err, &exceeded),
		errors.As(err, &changed),
		errors.Is(err, refund.ErrCaptureNotFound),
		errors.Is(err, refund.ErrReversalDeclined),
		errors.Is(err, refund.ErrNothingToReverse),
		errors.Is(err, refund.ErrNoPlatformUser):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, common.NewErrorResponse(err.Error(), nil, status))
}
