package refund

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"

	"revenue-service/internal/models"
	"revenue-service/internal/notify"
)

type notificationKind string

const (
	kindNew       notificationKind = "new"
	kindApproved  notificationKind = "approved"
	kindRejected  notificationKind = "rejected"
	kindCompleted notificationKind = "completed"
)

var notificationSubjects = map[notificationKind]string{
	kindNew:       "New Refund Authorization Request",
	kindApproved:  "Refund Authorization Request *Approved*",
	kindRejected:  "Refund Authorization Request *Rejected*",
	kindCompleted: "Refund Completed Successfully",
}

type alertKind string

const (
	alertFailedRefund   alertKind = "[ALERT] Failed Refund"
	alertFailedApproval alertKind = "Failed refund request approval"
	alertSideEffect     alertKind = "[ALERT] Refund follow-up failed"
	alertCaptureMissing alertKind = "[ALERT] A card refund was not completed"
)

var notificationTemplate = template.Must(template.New("notification").Parse(`<html><body>
<p>Refund authorization request #{{.Request.ID}}</p>
<ul>
<li>Amount: ${{.Amount}}</li>
<li>Channel: {{.Request.Channel}}</li>
<li>Type: {{.Request.RefundType}}</li>
<li>Transaction: {{.Request.TransactionID}}</li>
<li>Requested by: {{.Request.CreatedBy}}</li>
{{if .Request.ApprovedBy}}<li>Decided by: {{.Request.ApprovedBy}}</li>{{end}}
{{if .Request.WaitForSettlement}}<li>Waiting for card settlement</li>{{end}}
<li>Description: {{.Request.Description}}</li>
</ul>
{{if .Message}}<p>{{.Message}}</p>{{end}}
{{if .AdminURL}}<p><a href="{{.AdminURL}}">Refund Authorization Request</a></p>{{end}}
</body></html>
`))

func (e *Engine) adminURL(id uint) string {
	return fmt.Sprintf("%s/refund-requests/%d", strings.TrimRight(e.Settings.AdminURL, "/"), id)
}

func (e *Engine) renderNotification(req *models.RefundAuthorizationRequest, message string, withLink bool) (string, error) {
	data := map[string]interface{}{
		"Request": req,
		"Amount":  req.Amount.StringFixed(2),
		"Message": message,
	}
	if withLink {
		data["AdminURL"] = e.adminURL(req.ID)
	}
	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// notify sends one e-mail covering every kind given. Delivery problems are
// logged and never fail the caller.
func (e *Engine) notify(ctx context.Context, req *models.RefundAuthorizationRequest, checks []byte, kinds ...notificationKind) {
	parties := []string{req.CreatedBy, req.ApprovedBy}
	var subjects []string
	var lists [][]string
	withLink := false
	for _, k := range kinds {
		subjects = append(subjects, notificationSubjects[k])
		lists = append(lists, parties)
		if k == kindNew {
			lists = append(lists, e.Settings.DefaultTo)
		}
		if k == kindNew || k == kindCompleted {
			withLink = true
		}
	}
	to := notify.Recipients(lists...)
	if len(to) == 0 {
		e.Logger.Warn("Refund notification has no recipients", zap.Uint("request_id", req.ID))
		return
	}

	body, err := e.renderNotification(req, "", withLink)
	if err != nil {
		e.Logger.Error("Failed rendering refund notification", zap.Uint("request_id", req.ID), zap.Error(err))
		return
	}
	email := notify.Email{To: to, Subject: strings.Join(subjects, ". "), HTMLBody: body}
	if len(checks) > 0 {
		email.Attachments = []notify.Attachment{{
			Name:    fmt.Sprintf("RenderedRefundChecks-%s.zip", e.now().Format("20060102T150405")),
			Content: checks,
		}}
	}
	if err := e.Notifier.Send(ctx, email); err != nil {
		e.Logger.Error("Refund request notification failed", zap.Uint("request_id", req.ID), zap.Error(err))
	}
}

// alert tells the requester and IT that a settlement step needs a human.
func (e *Engine) alert(ctx context.Context, req *models.RefundAuthorizationRequest, kind alertKind, message string) {
	e.sendAlert(ctx, req, kind, message, notify.Recipients([]string{req.CreatedBy}, e.Settings.ITEmails))
}

func (e *Engine) reportCaptureFailure(ctx context.Context, req *models.RefundAuthorizationRequest) {
	msg := fmt.Sprintf("The system could not find a settled card capture for refund request %d. The request needs manual handling.", req.ID)
	to := notify.Recipients(e.Settings.ITEmails, []string{req.CreatedBy, req.ApprovedBy})
	e.sendAlert(ctx, req, alertCaptureMissing, msg, to)
}

func (e *Engine) sendAlert(ctx context.Context, req *models.RefundAuthorizationRequest, kind alertKind, message string, to []string) {
	if len(to) == 0 {
		e.Logger.Warn("Refund alert has no recipients", zap.Uint("request_id", req.ID), zap.String("message", message))
		return
	}
	body, err := e.renderNotification(req, message, true)
	if err != nil {
		e.Logger.Error("Failed rendering refund alert", zap.Uint("request_id", req.ID), zap.Error(err))
		return
	}
	err = e.Notifier.Send(ctx, notify.Email{To: to, Subject: string(kind), HTMLBody: body})
	if err != nil {
		e.Logger.Error("Refund alert failed", zap.Uint("request_id", req.ID), zap.Error(err))
	}
}
