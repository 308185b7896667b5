package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"revenue-service/internal/models"
	"revenue-service/internal/refund"
	"revenue-service/pkg/common"
)

type CreateRefundRequest struct {
	TransactionID         uint                 `json:"transaction_id" binding:"required"`
	Channel               models.RefundChannel `json:"channel" binding:"required"`
	Amount                decimal.Decimal      `json:"amount"`
	Aggregators           []models.TenderField `json:"aggregators"`
	CreatedBy             string               `json:"created_by" binding:"required"`
	Description           string               `json:"description"`
	ExternalUserID        *int64               `json:"external_user_id"`
	WipeBonus             bool                 `json:"wipe_bonus"`
	AdditionalBonus       decimal.Decimal      `json:"additional_bonus"`
	WorkOrderStatus       string               `json:"work_order_status"`
	CheckRecipient        string               `json:"check_recipient"`
	CheckRecipientAddress string               `json:"check_recipient_address"`
}

type CashoutRequest struct {
	ExternalUserID        int64              `json:"external_user_id" binding:"required"`
	Amount                decimal.Decimal    `json:"amount"`
	BalanceType           models.BalanceType `json:"balance_type"`
	CheckRecipient        string             `json:"check_recipient"`
	CheckRecipientAddress string             `json:"check_recipient_address"`
	Description           string             `json:"description"`
	CreatedBy             string             `json:"created_by" binding:"required"`
}

type DamageRequest struct {
	ExternalUserID         *int64               `json:"external_user_id"`
	Amount                 decimal.Decimal      `json:"amount"`
	Channel                models.RefundChannel `json:"channel"`
	LaundryRoomID          *uint                `json:"laundry_room_id"`
	SlotID                 *uint                `json:"slot_id"`
	BalanceType            models.BalanceType   `json:"balance_type"`
	CheckRecipient         string               `json:"check_recipient"`
	CheckRecipientAddress  string               `json:"check_recipient_address"`
	Description            string               `json:"description"`
	CreatedBy              string               `json:"created_by" binding:"required"`
	ChargeDamageToLandlord bool                 `json:"charge_damage_to_landlord"`
	Force                  bool                 `json:"force"`
}

type DecisionRequest struct {
	By string `json:"by" binding:"required"`
}

type ChannelRequest struct {
	Channel models.RefundChannel `json:"channel" binding:"required"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
}

func requestID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse("Invalid refund request id", nil, http.StatusBadRequest))
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) CreateRefundRequest(c *gin.Context) {
	var req CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Refunds.Create(c.Request.Context(), refund.CreateInput{
		TransactionID:         req.TransactionID,
		Channel:               req.Channel,
		Amount:                req.Amount,
		Aggregators:           req.Aggregators,
		CreatedBy:             req.CreatedBy,
		Description:           req.Description,
		ExternalUserID:        req.ExternalUserID,
		WipeBonus:             req.WipeBonus,
		AdditionalBonus:       req.AdditionalBonus,
		WorkOrderStatus:       req.WorkOrderStatus,
		CheckRecipient:        req.CheckRecipient,
		CheckRecipientAddress: req.CheckRecipientAddress,
	})
	if err != nil {
		h.fail(c, "Failed to create refund request", err)
		return
	}
	c.JSON(http.StatusCreated, common.NewCreatedResponse(out, "Refund request created"))
}

func (h *Handler) RequestCashout(c *gin.Context) {
	var req CashoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Refunds.RequestCashout(c.Request.Context(), refund.CashoutInput{
		ExternalUserID:        req.ExternalUserID,
		Amount:                req.Amount,
		BalanceType:           req.BalanceType,
		CheckRecipient:        req.CheckRecipient,
		CheckRecipientAddress: req.CheckRecipientAddress,
		Description:           req.Description,
		CreatedBy:             req.CreatedBy,
	})
	if err != nil {
		h.fail(c, "Failed to request cashout", err)
		return
	}
	c.JSON(http.StatusCreated, common.NewCreatedResponse(out, "Cashout requested"))
}

func (h *Handler) RequestDamageRefund(c *gin.Context) {
	var req DamageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Refunds.RequestDamageRefund(c.Request.Context(), refund.DamageInput{
		ExternalUserID:         req.ExternalUserID,
		Amount:                 req.Amount,
		Channel:                req.Channel,
		LaundryRoomID:          req.LaundryRoomID,
		SlotID:                 req.SlotID,
		BalanceType:            req.BalanceType,
		CheckRecipient:         req.CheckRecipient,
		CheckRecipientAddress:  req.CheckRecipientAddress,
		Description:            req.Description,
		CreatedBy:              req.CreatedBy,
		ChargeDamageToLandlord: req.ChargeDamageToLandlord,
		Force:                  req.Force,
	})
	if err != nil {
		h.fail(c, "Failed to request damage refund", err)
		return
	}
	c.JSON(http.StatusCreated, common.NewCreatedResponse(out, "Damage refund requested"))
}

func (h *Handler) Approve(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Refunds.Approve(c.Request.Context(), id, req.By)
	if err != nil {
		h.fail(c, "Failed to approve refund request", err)
		return
	}
	data := gin.H{
		"request":  out.Request,
		"refund":   out.Refund,
		"enqueued": out.Enqueued,
	}
	if out.Refund == nil {
		c.JSON(http.StatusAccepted, common.NewAcceptedResponse(data, "Refund request approved, settlement pending"))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(data, "Refund request approved"))
}

func (h *Handler) Reject(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Refunds.Reject(c.Request.Context(), id, req.By)
	if err != nil {
		h.fail(c, "Failed to reject refund request", err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(out, "Refund request rejected"))
}

func (h *Handler) ChangeChannel(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var req ChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Refunds.ChangeChannel(c.Request.Context(), id, req.Channel)
	if err != nil {
		h.fail(c, "Failed to change refund channel", err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(out, "Refund channel changed"))
}

// ListPending pages through requests awaiting a decision.
func (h *Handler) ListPending(c *gin.Context) {
	page := common.ParsePage(c.Query("page"), c.Query("limit"))
	items, total, err := h.Refunds.ListPending(c.Request.Context(), page.Offset(), page.Limit)
	if err != nil {
		h.fail(c, "Failed to list refund requests", err)
		return
	}
	c.JSON(http.StatusOK, common.PaginateResponse(items, total, page, ""))
}
