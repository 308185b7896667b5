package refund

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"revenue-service/internal/blobstore"
	"revenue-service/internal/models"
	"revenue-service/internal/platform"
	"revenue-service/internal/processor"
)

func approvedReversal(id string) *processor.ReversalResponse {
	return &processor.ReversalResponse{
		ResultCode:    "Ok",
		TransactionID: id,
		Messages:      []processor.Message{{Code: "1", Text: "This transaction has been approved."}},
	}
}

func TestOverRefundGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))

	first := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCheck, Amount: dec("15"), CheckRecipient: "Jane Doe"})
	second := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCheck, Amount: dec("15"), CheckRecipient: "Jane Doe"})

	_, err := f.Approve(ctx, first.ID, approver)
	require.NoError(t, err)

	_, err = f.Approve(ctx, second.ID, approver)
	var exceeded *TotalBalanceExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.True(t, exceeded.Refunded.Equal(dec("15")))
	assert.True(t, exceeded.Available.Equal(dec("20")))

	assert.True(t, f.reload(t, second.ID).Pending())
	assert.Len(t, f.refunds(t, tx.ID), 1)
	assert.False(t, f.txn(t, tx.ID).IsRefunded)
}

func TestFullRefundFlagsTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))

	first := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCheck, Amount: dec("20")})
	second := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCheck, Amount: dec("0.01")})

	_, err := f.Approve(ctx, first.ID, approver)
	require.NoError(t, err)
	assert.True(t, f.txn(t, tx.ID).IsRefunded)

	_, err = f.Approve(ctx, second.ID, approver)
	var exceeded *TotalBalanceExceededError
	assert.ErrorAs(t, err, &exceeded)
	assert.Len(t, f.refunds(t, tx.ID), 1)
}

func TestFullyRefundedTransactionSkipsPlatformCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))

	check := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCheck, Amount: dec("20")})
	_, err := f.Approve(ctx, check.ID, approver)
	require.NoError(t, err)

	adjust := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("1")})
	_, err = f.Approve(ctx, adjust.ID, approver)
	var exceeded *TotalBalanceExceededError
	assert.ErrorAs(t, err, &exceeded)
	f.platform.AssertNotCalled(t, "UserAccount", mock.Anything, mock.Anything)
	f.platform.AssertNotCalled(t, "AdjustLoyalty", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckRefundRendersDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := models.LaundryRoom{LaundryGroupID: groupID, LocationCode: "100", DisplayName: "Maple Court", IsActive: true}
	require.NoError(t, f.db.Create(&room).Error)
	v := vend("1-86")
	v.AssignedLaundryRoomID = &room.ID
	tx := f.saveTx(t, v)

	req := f.request(t, CreateInput{
		TransactionID:         tx.ID,
		Channel:               models.ChannelCheck,
		Amount:                dec("12.5"),
		Description:           "Dryer ate the quarters.",
		CheckRecipient:        "Jane Doe",
		CheckRecipientAddress: "1 Main St",
	})

	out, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)
	require.True(t, out.Refund.Completed)
	require.NotEmpty(t, out.Refund.DocumentKey)

	doc, err := f.blobs.Get(blobstore.BucketChecks, out.Refund.DocumentKey)
	require.NoError(t, err)
	html := string(doc)
	assert.Contains(t, html, "Maple Court")
	assert.Contains(t, html, "Jane Doe")
	assert.Contains(t, html, "1 Main St")
	assert.Contains(t, html, "$12.50")
	assert.Contains(t, html, "Laundry refund for Vend Room: Maple Court. Dryer ate the quarters.")

	zr, err := zip.NewReader(bytes.NewReader(out.Checks), int64(len(out.Checks)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Regexp(t, `^Jane Doe-\d{8}T\d{6}\.html$`, zr.File[0].Name)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, doc, body)

	email := f.mail.last()
	assert.Equal(t, "Refund Authorization Request *Approved*. Refund Completed Successfully", email.Subject)
	assert.Equal(t, []string{requester, approver}, email.To)
	require.Len(t, email.Attachments, 1)
	assert.Regexp(t, `^RenderedRefundChecks-\d{8}T\d{6}\.zip$`, email.Attachments[0].Name)

	got := f.reload(t, req.ID)
	assert.True(t, got.Approved)
	assert.Equal(t, approver, got.ApprovedBy)
	require.NotNil(t, got.ApprovalTime)
}

func TestCheckPayeeFallsBackToCompanyAndCardHolder(t *testing.T) {
	f := newFixture(t)
	v := vend("1-86")
	v.LastFour = "4242"
	v.CardHolderName = " John Smith "
	tx := f.saveTx(t, v)
	req := &models.RefundAuthorizationRequest{CheckRecipient: "Someone Else"}

	c, err := f.checkContextFor(context.Background(), req, tx)
	require.NoError(t, err)
	assert.Equal(t, "Aces Laundry", c.Company)
	assert.Equal(t, "John Smith", c.Payee)
}

func TestPlatformAdjustConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))
	f.platform.On("UserAccount", mock.Anything, int64(42)).Return(platform.Record{"ID": 42, "Bonus": 3.0}, nil)
	f.platform.On("AdjustLoyalty", mock.Anything, int64(42), mock.Anything).
		Return(&platform.AdjustResponse{Account: platform.Record{"ID": 42}}, nil)

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("6"), Description: "double charge"})
	out, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)
	assert.True(t, out.Refund.Completed)

	adj := f.adjustments()
	require.Len(t, adj, 1)
	require.NotNil(t, adj[0].Bonus)
	assert.True(t, adj[0].Bonus.Equal(dec("6")))
	assert.Nil(t, adj[0].Balance)
	assert.False(t, adj[0].SetExactValue)
	assert.Equal(t, int(models.TypeAdminAdjust), adj[0].TransType)
	assert.Equal(t, adjustSubTypeRefund, adj[0].TransSubType)
	assert.Equal(t, "double charge", adj[0].AdditionalInfo)
}

func TestPlatformAdjustUnconfirmedIsNotResent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))
	f.platform.On("UserAccount", mock.Anything, int64(42)).Return(platform.Record{"ID": 42}, nil)
	f.platform.On("AdjustLoyalty", mock.Anything, int64(42), mock.Anything).Return(&platform.AdjustResponse{}, nil)

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("6")})
	out, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)
	assert.False(t, out.Refund.Completed)
	assert.Equal(t, "Refund Authorization Request *Approved*", f.mail.last().Subject)

	again, err := f.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Refund.ID, again.Refund.ID)
	f.platform.AssertNumberOfCalls(t, "AdjustLoyalty", 1)
}

func TestPlatformAdjustFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))
	f.platform.On("UserAccount", mock.Anything, int64(42)).Return(platform.Record{"ID": 42}, nil)
	f.platform.On("AdjustLoyalty", mock.Anything, int64(42), mock.Anything).Return(nil, errors.New("503"))

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("6")})
	_, err := f.Approve(ctx, req.ID, approver)
	require.Error(t, err)

	assert.True(t, f.reload(t, req.ID).Pending())
	assert.Empty(t, f.refunds(t, tx.ID))
	alert := f.mail.last()
	assert.Equal(t, string(alertFailedRefund), alert.Subject)
	assert.Equal(t, []string{requester, itDesk}, alert.To)
}

func TestPlatformAdjustWithoutUser(t *testing.T) {
	f := newFixture(t)
	v := vend("1-86")
	v.ExternalUserID = nil
	tx := f.saveTx(t, v)

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("6")})
	_, err := f.Approve(context.Background(), req.ID, approver)
	assert.ErrorIs(t, err, ErrNoPlatformUser)
	assert.Empty(t, f.refunds(t, tx.ID))
}

func TestPlatformAdjustNeedsMatchingAccount(t *testing.T) {
	cases := []struct {
		name    string
		account platform.Record
	}{
		{"other account", platform.Record{"ID": 7, "Bonus": 3.0}},
		{"no id", platform.Record{"Bonus": 3.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tx := f.saveTx(t, vend("1-86"))
			f.platform.On("UserAccount", mock.Anything, int64(42)).Return(tc.account, nil)

			req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("6")})
			_, err := f.Approve(context.Background(), req.ID, approver)
			assert.ErrorIs(t, err, ErrNoPlatformUser)

			f.platform.AssertNotCalled(t, "AdjustLoyalty", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, f.refunds(t, tx.ID))
			assert.True(t, f.reload(t, req.ID).Pending())
			assert.Equal(t, string(alertFailedRefund), f.mail.last().Subject)
		})
	}
}

func TestBonusSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))
	f.platform.On("UserAccount", mock.Anything, int64(42)).Return(platform.Record{"ID": 42, "Bonus": 12.0}, nil)
	f.platform.On("AdjustLoyalty", mock.Anything, int64(42), mock.Anything).
		Return(&platform.AdjustResponse{Account: platform.Record{"ID": 42}}, nil)

	req := f.request(t, CreateInput{
		TransactionID:   tx.ID,
		Channel:         models.ChannelPlatformAdjust,
		Amount:          dec("8"),
		WipeBonus:       true,
		AdditionalBonus: dec("5"),
	})
	_, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)

	adj := f.adjustments()
	require.Len(t, adj, 3)
	assert.True(t, adj[0].Bonus.Equal(dec("8")))

	// The wipe removes the $5 bonus the vend spent.
	assert.True(t, adj[1].SetExactValue)
	assert.True(t, adj[1].Bonus.Equal(dec("7")))
	assert.Equal(t, adjustSubTypeAdmin, adj[1].TransSubType)

	assert.False(t, adj[2].SetExactValue)
	assert.True(t, adj[2].Bonus.Equal(dec("5")))
	assert.Equal(t, adjustSubTypeRefund, adj[2].TransSubType)

	assert.Equal(t, []time.Duration{30 * time.Second}, f.slept)
}

func TestBonusFailureKeepsApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, vend("1-86"))
	f.platform.On("UserAccount", mock.Anything, int64(42)).Return(platform.Record{"ID": 42}, nil)
	f.platform.On("AdjustLoyalty", mock.Anything, int64(42), mock.MatchedBy(func(p platform.AdjustPayload) bool {
		return p.Bonus != nil && p.Bonus.Equal(dec("8"))
	})).Return(&platform.AdjustResponse{Account: platform.Record{"ID": 42}}, nil)
	f.platform.On("AdjustLoyalty", mock.Anything, int64(42), mock.Anything).Return(nil, errors.New("timeout"))

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelPlatformAdjust, Amount: dec("8"), AdditionalBonus: dec("5")})
	out, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)
	assert.True(t, out.Refund.Completed)
	assert.True(t, f.reload(t, req.ID).Approved)
	assert.Contains(t, f.mail.subjects(), string(alertSideEffect))
}

func cardVend(externalID string, when int) models.Transaction {
	user := int64(42)
	return models.Transaction{
		ExternalID:       externalID,
		TransactionType:  models.TypeVend,
		CreditCardAmount: dec("10"),
		LastFour:         "4242",
		ExternalUserID:   &user,
		LocalTime:        local(when, 10, 0),
		UTCTime:          local(when, 14, 0),
	}
}

func capture(externalID string, day, hour, minute int, amount, ref string) models.Transaction {
	return models.Transaction{
		ExternalID:       externalID,
		TransactionType:  models.TypeCapture,
		CreditCardAmount: dec(amount),
		LastFour:         "4242",
		AdditionalInfo:   ref + "/AUTH01",
		LocalTime:        local(day, hour, minute),
	}
}

func TestCardReversalUsesCaptureInWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, cardVend("1-86", 18))
	f.saveTx(t, capture("2-86", 18, 9, 57, "10", "CAP-EARLY"))
	f.saveTx(t, capture("3-86", 18, 9, 59, "5", "CAP-SHORT"))
	f.saveTx(t, capture("4-86", 18, 9, 59, "10", "CAP-IN"))
	f.saveTx(t, capture("5-86", 18, 15, 0, "10", "CAP-LATE"))
	f.gateway.On("CreateReversal", "CAP-IN", "10.00").Return(approvedReversal("60001"), nil).Once()

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCardReversal, Amount: dec("10")})
	assert.Equal(t, string(models.TenderCreditCard), req.AggregatorParam)

	out, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)
	assert.True(t, out.Enqueued)
	assert.Equal(t, []uint{req.ID}, f.queue.ids)
	assert.Empty(t, f.refunds(t, tx.ID))
	f.gateway.AssertNotCalled(t, "CreateReversal", mock.Anything, mock.Anything)

	done, err := f.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, done.Refund.Completed)
	assert.Equal(t, "60001", done.Refund.ProcessorTransactionID)
	assert.True(t, f.txn(t, tx.ID).IsRefunded)
	assert.Equal(t, "Refund Completed Successfully", f.mail.last().Subject)

	_, err = f.Complete(ctx, req.ID)
	require.NoError(t, err)
	f.gateway.AssertExpectations(t)
}

type read struct {
	table   string
	locking bool
	inTx    bool
}

// trackReads records every query and row read issued on f's database.
func (f *fixture) trackReads(t *testing.T) *[]read {
	t.Helper()
	var reads []read
	record := func(db *gorm.DB) {
		_, locking := db.Statement.Clauses["FOR"]
		_, inTx := db.Statement.ConnPool.(gorm.TxCommitter)
		reads = append(reads, read{table: db.Statement.Table, locking: locking, inTx: inTx})
	}
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:track_query", record))
	require.NoError(t, f.db.Callback().Row().Before("gorm:row").Register("test:track_row", record))
	return &reads
}

func firstInTx(reads []read) read {
	for _, r := range reads {
		if r.inTx {
			return r
		}
	}
	return read{}
}

func TestSettlementLocksTransactionFirst(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		tx := f.saveTx(t, cardVend("1-86", 18))
		f.saveTx(t, capture("2-86", 18, 9, 59, "10", "CAP-IN"))
		f.gateway.On("CreateReversal", "CAP-IN", "10.00").Return(approvedReversal("60001"), nil).Once()

		req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCardReversal, Amount: dec("10")})
		_, err := f.Approve(ctx, req.ID, approver)
		require.NoError(t, err)

		reads := f.trackReads(t)
		_, err = f.Complete(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, read{table: "transactions", locking: true, inTx: true}, firstInTx(*reads))
	})

	t.Run("approve", func(t *testing.T) {
		f := newFixture(t)
		tx := f.saveTx(t, vend("1-86"))
		req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCheck, Amount: dec("5"), CheckRecipient: "Jane Doe"})

		reads := f.trackReads(t)
		_, err := f.Approve(context.Background(), req.ID, approver)
		require.NoError(t, err)
		assert.Equal(t, read{table: "transactions", locking: true, inTx: true}, firstInTx(*reads))
	})
}

func TestCardReversalWithoutCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, cardVend("1-86", 18))
	f.saveTx(t, capture("2-86", 18, 16, 1, "10", "CAP-TOO-LATE"))

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCardReversal, Amount: dec("10")})
	_, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)

	_, err = f.Complete(ctx, req.ID)
	assert.ErrorIs(t, err, ErrCaptureNotFound)
	assert.Empty(t, f.refunds(t, tx.ID))
	f.gateway.AssertNotCalled(t, "CreateReversal", mock.Anything, mock.Anything)

	alert := f.mail.last()
	assert.Equal(t, string(alertCaptureMissing), alert.Subject)
	assert.Equal(t, []string{itDesk, requester, approver}, alert.To)
}

func TestCardReversalDeclinedRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.saveTx(t, cardVend("1-86", 18))
	f.saveTx(t, capture("2-86", 18, 10, 0, "10", "CAP-1"))
	f.gateway.On("CreateReversal", "CAP-1", "4.00").Return(&processor.ReversalResponse{
		ResultCode: "Error",
		Errors:     []processor.Message{{Code: "54", Text: "The referenced transaction does not meet the criteria for issuing a credit."}},
	}, nil)

	req := f.request(t, CreateInput{TransactionID: tx.ID, Channel: models.ChannelCardReversal, Amount: dec("4")})
	_, err := f.Approve(ctx, req.ID, approver)
	require.NoError(t, err)

	_, err = f.Complete(ctx, req.ID)
	require.ErrorIs(t, err, ErrReversalDeclined)
	assert.Contains(t, err.Error(), "error 54")
	assert.Empty(t, f.refunds(t, tx.ID))
	assert.False(t, f.txn(t, tx.ID).IsRefunded)
	assert.Equal(t, string(alertFailedRefund), f.mail.last().Subject)
}

func TestCardReversalNeedsCardAmount(t *testing.T) {
	f := newFixture(t)
	v := cardVend("1-86", 18)
	v.CreditCardAmount = dec("0")
	v.BalanceAmount = dec("10")
	tx := f.saveTx(t, v)

	req := f.request(t, CreateInput{
		TransactionID: tx.ID,
		Channel:       models.ChannelCardReversal,
		Amount:        dec("5"),
		Aggregators:   []models.TenderField{models.TenderBalance},
	})
	_, err := f.Approve(context.Background(), req.ID, approver)
	require.NoError(t, err)
	_, err = f.Complete(context.Background(), req.ID)
	assert.ErrorIs(t, err, ErrNothingToReverse)
}
