// Package refund runs refund authorization requests from creation through
// approval to settlement on one of three channels.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/directory"
	"revenue-service/internal/matcher"
	"revenue-service/internal/models"
	"revenue-service/internal/notify"
	"revenue-service/internal/platform"
	"revenue-service/internal/processor"
	"revenue-service/pkg/common"
)

var maxAdditionalBonus = decimal.NewFromInt(100)

// errAlreadySettled is returned inside a settlement transaction when another
// run got there first.
var errAlreadySettled = errors.New("refund already recorded")

// Dispatcher queues a card reversal for the worker.
type Dispatcher interface {
	EnqueueRefundRequest(ctx context.Context, requestID uint) error
}

type Settings struct {
	LaundryGroupID       uint
	LocalZone            *time.Location
	SettlementZone       *time.Location
	AdditionalBonusPause time.Duration
	MidnightWindow       time.Duration
	AdminURL             string
	CompanyName          string
	ITEmails             []string
	DefaultTo            []string
}

type Engine struct {
	DB         *gorm.DB
	Platform   platform.Client
	Processor  processor.Client
	Notifier   notify.Sender
	Blobs      blobstore.Store
	Dispatcher Dispatcher
	Matcher    *matcher.Matcher
	Directory  directory.Directory
	Settings   Settings
	Logger     *zap.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is what an approval or completion produced. Checks holds the zip of
// rendered check documents for the check channel.
type Outcome struct {
	Request  *models.RefundAuthorizationRequest
	Refund   *models.Refund
	Checks   []byte
	Enqueued bool
}

type CreateInput struct {
	TransactionID         uint
	Channel               models.RefundChannel
	Amount                decimal.Decimal
	Aggregators           []models.TenderField
	CreatedBy             string
	Description           string
	ExternalUserID        *int64
	WipeBonus             bool
	AdditionalBonus       decimal.Decimal
	WorkOrderStatus       string
	CheckRecipient        string
	CheckRecipientAddress string
}

// DefaultAggregators is the tender set a channel may refund from when the
// request does not name one.
func DefaultAggregators(channel models.RefundChannel, txn *models.Transaction) []models.TenderField {
	switch {
	case channel == models.ChannelCardReversal:
		return []models.TenderField{models.TenderCreditCard}
	case txn.TransactionType == models.TypeVend:
		return []models.TenderField{models.TenderCreditCard, models.TenderBalance, models.TenderBonus}
	default:
		return []models.TenderField{models.TenderBalance}
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Create records a refund request against an existing transaction.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.RefundAuthorizationRequest, error) {
	var txn models.Transaction
	if err := e.DB.WithContext(ctx).First(&txn, in.TransactionID).Error; err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", in.TransactionID, err)
	}
	aggs := in.Aggregators
	if len(aggs) == 0 {
		aggs = DefaultAggregators(in.Channel, &txn)
	}
	req := &models.RefundAuthorizationRequest{
		TransactionID:         txn.ID,
		Channel:               in.Channel,
		RefundType:            models.RefundTypeTransaction,
		Amount:                in.Amount,
		CreatedBy:             in.CreatedBy,
		Description:           in.Description,
		ExternalUserID:        in.ExternalUserID,
		WipeBonus:             in.WipeBonus,
		AdditionalBonus:       in.AdditionalBonus,
		WorkOrderStatus:       in.WorkOrderStatus,
		CheckRecipient:        in.CheckRecipient,
		CheckRecipientAddress: in.CheckRecipientAddress,
		AggregatorParam:       models.JoinTenders(aggs),
	}
	if req.ExternalUserID == nil {
		req.ExternalUserID = txn.ExternalUserID
	}
	if err := e.submit(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func validate(req *models.RefundAuthorizationRequest) error {
	if !req.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if req.AdditionalBonus.IsNegative() || req.AdditionalBonus.GreaterThan(maxAdditionalBonus) {
		return ErrInvalidAdditionalBonus
	}
	aggs := req.Aggregators()
	if len(aggs) == 0 {
		return ErrInvalidAggregator
	}
	for _, f := range aggs {
		if !f.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidAggregator, f)
		}
	}
	return nil
}

// submit stores a new request and sends the "new" notification.
func (e *Engine) submit(ctx context.Context, req *models.RefundAuthorizationRequest) error {
	if err := e.insertRequest(ctx, e.DB, req); err != nil {
		return err
	}
	e.notify(ctx, req, nil, kindNew)
	return nil
}

func (e *Engine) insertRequest(ctx context.Context, db *gorm.DB, req *models.RefundAuthorizationRequest) error {
	if err := validate(req); err != nil {
		return err
	}
	if req.ExternalUserID != nil && req.PlatformUserID == nil {
		id, err := platformUser(ctx, db, e.Settings.LaundryGroupID, *req.ExternalUserID)
		if err != nil {
			e.Logger.Warn("Platform user lookup failed", zap.Int64("external_user_id", *req.ExternalUserID), zap.Error(err))
		}
		req.PlatformUserID = id
	}
	if err := db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("save refund request: %w", err)
	}
	e.Logger.Info("Refund request created",
		zap.Uint("request_id", req.ID),
		zap.String("channel", string(req.Channel)),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return nil
}

func platformUser(ctx context.Context, db *gorm.DB, groupID uint, accountID int64) (*uint, error) {
	var users []models.PlatformUser
	err := db.WithContext(ctx).
		Select("id").
		Where("laundry_group_id = ? AND external_account_id = ?", groupID, accountID).
		Limit(1).
		Find(&users).Error
	if err != nil || len(users) == 0 {
		return nil, err
	}
	return &users[0].ID, nil
}

func (e *Engine) load(ctx context.Context, id uint) (*models.RefundAuthorizationRequest, error) {
	var req models.RefundAuthorizationRequest
	if err := e.DB.WithContext(ctx).Preload("Refund").First(&req, id).Error; err != nil {
		return nil, fmt.Errorf("load refund request %d: %w", id, err)
	}
	return &req, nil
}

// Approve approves a pending request. Check and platform refunds settle
// inline and a settlement failure leaves the request pending. Card reversals
// are queued for the worker, or left for the nightly sweep when the
// transaction happened today and has not settled yet.
func (e *Engine) Approve(ctx context.Context, id uint, approvedBy string) (*Outcome, error) {
	req, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Pending() {
		return nil, ErrAlreadyDecided
	}

	now := common.NaiveSecond(e.now().UTC())
	req.Approved = true
	req.ApprovedBy = approvedBy
	req.ApprovalTime = &now

	if req.Channel == models.ChannelCardReversal {
		return e.approveReversal(ctx, req)
	}

	s, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	var out *Outcome
	err = e.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := lockTransaction(ctx, db, req.TransactionID); err != nil {
			return err
		}
		if err := lockPending(ctx, db, req.ID); err != nil {
			return err
		}
		if err := saveDecision(ctx, db, req); err != nil {
			return err
		}
		var err error
		out, err = e.settle(ctx, db, s)
		return err
	})
	if err != nil {
		e.Logger.Error("Refund approval failed", zap.Uint("request_id", req.ID), zap.Error(err))
		return nil, err
	}

	e.afterSettlement(ctx, s)
	kinds := []notificationKind{kindApproved}
	if out.Refund.Completed {
		kinds = append(kinds, kindCompleted)
	}
	e.notify(ctx, req, out.Checks, kinds...)
	return out, nil
}

func (e *Engine) approveReversal(ctx context.Context, req *models.RefundAuthorizationRequest) (*Outcome, error) {
	var txn models.Transaction
	if err := e.DB.WithContext(ctx).First(&txn, req.TransactionID).Error; err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", req.TransactionID, err)
	}
	req.WaitForSettlement = e.settlesToday(&txn)

	err := e.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := lockPending(ctx, db, req.ID); err != nil {
			return err
		}
		return saveDecision(ctx, db, req)
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{Request: req}
	if !req.WaitForSettlement {
		if err := e.Dispatcher.EnqueueRefundRequest(ctx, req.ID); err != nil {
			e.Logger.Error("Failed enqueueing card reversal; the settlement sweep will retry it",
				zap.Uint("request_id", req.ID), zap.Error(err))
		} else {
			out.Enqueued = true
		}
	}
	e.Logger.Info("Card reversal approved",
		zap.Uint("request_id", req.ID),
		zap.Bool("wait_for_settlement", req.WaitForSettlement),
		zap.Bool("enqueued", out.Enqueued),
	)
	e.notify(ctx, req, nil, kindApproved)
	return out, nil
}

// settlesToday reports a transaction whose capture cannot have settled yet.
func (e *Engine) settlesToday(txn *models.Transaction) bool {
	local := txn.EffectiveLocalTime()
	if local == nil {
		return false
	}
	today := common.StartOfDay(e.now().In(e.Settings.SettlementZone))
	return common.StartOfDay(*local).Equal(today)
}

// lockTransaction takes the row lock on the refunded transaction. It must be
// the first statement of a settlement transaction: under repeatable read the
// first plain read fixes the snapshot, and only reads issued after the lock is
// granted see refunds committed by a concurrent settlement.
func lockTransaction(ctx context.Context, db *gorm.DB, id uint) error {
	var txn models.Transaction
	err := db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&txn, id).Error
	if err != nil {
		return fmt.Errorf("lock transaction %d: %w", id, err)
	}
	return nil
}

func lockPending(ctx context.Context, db *gorm.DB, id uint) error {
	var current models.RefundAuthorizationRequest
	err := db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, id).Error
	if err != nil {
		return err
	}
	if !current.Pending() {
		return ErrAlreadyDecided
	}
	return nil
}

func saveDecision(ctx context.Context, db *gorm.DB, req *models.RefundAuthorizationRequest) error {
	return db.WithContext(ctx).Model(req).
		Select("approved", "rejected", "approved_by", "approval_time", "wait_for_settlement").
		Updates(req).Error
}

func (e *Engine) Reject(ctx context.Context, id uint, rejectedBy string) (*models.RefundAuthorizationRequest, error) {
	req, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Pending() {
		return nil, ErrAlreadyDecided
	}
	req.Rejected = true
	req.ApprovedBy = rejectedBy
	err = e.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := lockPending(ctx, db, id); err != nil {
			return err
		}
		return saveDecision(ctx, db, req)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, req, nil, kindRejected)
	return req, nil
}

// ChangeChannel moves a pending request to another channel and resets its
// tender set to that channel's default.
func (e *Engine) ChangeChannel(ctx context.Context, id uint, channel models.RefundChannel) (*models.RefundAuthorizationRequest, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	req, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Approved {
		return nil, ErrChannelLocked
	}
	if req.Rejected {
		return nil, ErrAlreadyDecided
	}
	var txn models.Transaction
	if err := e.DB.WithContext(ctx).First(&txn, req.TransactionID).Error; err != nil {
		return nil, err
	}
	req.Channel = channel
	req.AggregatorParam = models.JoinTenders(DefaultAggregators(channel, &txn))
	err = e.DB.WithContext(ctx).Model(req).Select("channel", "aggregator_param").Updates(req).Error
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Complete settles an approved request. A request whose refund was already
// recorded is returned as is, without calling out again.
func (e *Engine) Complete(ctx context.Context, id uint) (*Outcome, error) {
	req, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Approved {
		return nil, ErrNotApproved
	}
	if req.Refund != nil {
		return e.settled(ctx, req)
	}

	s, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	var out *Outcome
	err = e.DB.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := lockTransaction(ctx, db, req.TransactionID); err != nil {
			return err
		}
		var n int64
		err := db.WithContext(ctx).Model(&models.Refund{}).Where("authorization_request_id = ?", id).Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return errAlreadySettled
		}
		out, err = e.settle(ctx, db, s)
		if err != nil {
			return err
		}
		req.WaitForSettlement, req.CaptureMissing = false, false
		return db.WithContext(ctx).Model(req).
			Select("wait_for_settlement", "capture_missing").
			Updates(req).Error
	})
	if errors.Is(err, ErrCaptureNotFound) && !req.CaptureMissing {
		// Kept out of the sweep until someone retries it by hand.
		req.CaptureMissing = true
		if uerr := e.DB.WithContext(ctx).Model(req).Update("capture_missing", true).Error; uerr != nil {
			e.Logger.Error("Failed flagging missing capture", zap.Uint("request_id", id), zap.Error(uerr))
		}
	}
	if errors.Is(err, errAlreadySettled) {
		req, err = e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		return e.settled(ctx, req)
	}
	if err != nil {
		e.Logger.Error("Refund completion failed", zap.Uint("request_id", id), zap.Error(err))
		return nil, err
	}

	e.afterSettlement(ctx, s)
	if out.Refund.Completed {
		e.notify(ctx, req, out.Checks, kindCompleted)
	}
	e.Logger.Info("Refund request completed", zap.Uint("request_id", id), zap.Uint("refund_id", out.Refund.ID))
	return out, nil
}

func (e *Engine) settled(ctx context.Context, req *models.RefundAuthorizationRequest) (*Outcome, error) {
	if !req.Refund.Completed {
		e.Logger.Warn("Refund recorded without confirmation", zap.Uint("request_id", req.ID), zap.Uint("refund_id", req.Refund.ID))
	}
	if req.WaitForSettlement {
		req.WaitForSettlement = false
		if err := e.DB.WithContext(ctx).Model(req).Update("wait_for_settlement", false).Error; err != nil {
			return nil, err
		}
	}
	return &Outcome{Request: req, Refund: req.Refund}, nil
}

// ListPending returns one page of undecided requests, oldest first.
func (e *Engine) ListPending(ctx context.Context, offset, limit int) ([]models.RefundAuthorizationRequest, int64, error) {
	q := e.DB.WithContext(ctx).Model(&models.RefundAuthorizationRequest{}).Where("approved = ? AND rejected = ?", false, false).
		Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.RefundAuthorizationRequest
	err := q.Order("id").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}
