package refund

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"revenue-service/internal/models"
)

var checkTemplate = template.Must(template.New("check").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Refund check {{.RefundID}}</title></head>
<body>
<table class="check">
<tr><td colspan="2"><strong>{{.Company}}</strong></td><td>{{.Date}}</td></tr>
<tr><td>Pay to the order of</td><td>{{.Payee}}</td><td>${{.Amount}}</td></tr>
<tr><td>Address</td><td colspan="2">{{.PayeeAddress}}</td></tr>
<tr><td>Memo</td><td colspan="2">{{.Purpose}}</td></tr>
<tr><td>Requested by</td><td>{{.RequestedBy}}</td><td>Refund #{{.RefundID}}</td></tr>
</table>
</body>
</html>
`))

// checkContext is read before settlement opens its database transaction.
type checkContext struct {
	Company string
	Room    string
	Payee   string
}

type checkFile struct {
	Name    string
	Content []byte
}

func (e *Engine) checkContextFor(ctx context.Context, req *models.RefundAuthorizationRequest, txn *models.Transaction) (*checkContext, error) {
	c := &checkContext{Company: e.Settings.CompanyName}

	roomID := txn.AssignedLaundryRoomID
	if roomID == nil {
		roomID = txn.LaundryRoomID
	}
	if roomID != nil {
		room, err := e.Directory.Room(ctx, *roomID)
		if err != nil {
			return nil, fmt.Errorf("load room %d: %w", *roomID, err)
		}
		if room != nil {
			c.Room = room.DisplayName
			if room.DisplayName != "" {
				c.Company = room.DisplayName
			}
		}
	}

	if txn.LoyaltyCardNumber != "" && txn.PlatformUserID != nil {
		var user models.PlatformUser
		if err := e.DB.WithContext(ctx).Select("name").First(&user, *txn.PlatformUserID).Error; err == nil {
			c.Payee = strings.TrimSpace(user.Name)
		}
	}
	if c.Payee == "" && txn.LastFour != "" {
		c.Payee = strings.TrimSpace(txn.CardHolderName)
	}
	if c.Payee == "" {
		c.Payee = req.CheckRecipient
	}
	return c, nil
}

func checkPurpose(c *checkContext, req *models.RefundAuthorizationRequest, txnType models.TransactionType) string {
	parts := []string{"Laundry refund for"}
	switch txnType {
	case models.TypeAddValue, models.TypeVend, models.TypeCashoutRequest, models.TypeDamageRefundRequest:
		parts = append(parts, txnType.String())
	}
	if c.Room != "" {
		parts = append(parts, fmt.Sprintf("Room: %s.", c.Room))
	}
	if req.Description != "" {
		parts = append(parts, req.Description)
	}
	return strings.Join(parts, " ")
}

// renderCheck returns the file name and HTML of a printable check.
func renderCheck(c *checkContext, txnType models.TransactionType, req *models.RefundAuthorizationRequest, refund *models.Refund, now time.Time) (string, []byte, error) {
	data := map[string]interface{}{
		"Company":      c.Company,
		"Date":         now.Format("01/02/2006"),
		"Payee":        c.Payee,
		"PayeeAddress": req.CheckRecipientAddress,
		"Amount":       req.Amount.StringFixed(2),
		"Purpose":      checkPurpose(c, req, txnType),
		"RequestedBy":  req.CreatedBy,
		"RefundID":     refund.ID,
	}
	var buf bytes.Buffer
	if err := checkTemplate.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("render check: %w", err)
	}
	payee := strings.NewReplacer("/", "-", "\\", "-").Replace(c.Payee)
	name := fmt.Sprintf("%s-%s.html", payee, req.CreatedAt.Format("20060102T150405"))
	return name, buf.Bytes(), nil
}

func zipChecks(files []checkFile) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
