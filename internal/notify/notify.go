// Package notify delivers the survey access email sent on approval.
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/url"
	texttemplate "text/template"
	"time"
)

const approvalSubject = "Your Art Survey Access Link"

// Notifier sends the approval email. Implementations return an error only
// when the message was not handed to the transport; the caller treats that
// as "the user was not approved".
type Notifier interface {
	SendApproval(ctx context.Context, msg ApprovalEmail) error
}

// ApprovalEmail is everything the access email shows.
type ApprovalEmail struct {
	To        string
	Name      string
	Link      string
	ExpiresAt time.Time
}

// AccessLink builds the deep link the participant follows to the survey page.
func AccessLink(frontendURL, token string) string {
	return frontendURL + "/survey?token=" + url.QueryEscape(token)
}

var approvalHTML = htmltemplate.Must(htmltemplate.New("approval.html").Parse(`<h2>Thank you for your interest in our Art Survey!</h2>
<p>Hi {{.Name}}, your request has been approved. Please use the link below to access the survey:</p>
<p><a href="{{.Link}}" style="padding: 10px 20px; background-color: #4CAF50; color: white; text-decoration: none; border-radius: 5px;">Access Survey</a></p>
<p>This link can be used once and expires on {{.Expires}}.</p>
<p>Best regards,<br>The Art Survey Team</p>
`))

var approvalText = texttemplate.Must(texttemplate.New("approval.txt").Parse(`Thank you for your interest in our Art Survey!

Hi {{.Name}}, your request has been approved. Open the link below to access the survey:

{{.Link}}

This link can be used once and expires on {{.Expires}}.

Best regards,
The Art Survey Team
`))

type approvalView struct {
	Name    string
	Link    string
	Expires string
}

func (m ApprovalEmail) view() approvalView {
	return approvalView{
		Name:    m.Name,
		Link:    m.Link,
		Expires: m.ExpiresAt.UTC().Format("Monday, 2 January 2006 15:04 MST"),
	}
}

// RenderApproval returns the HTML and plain-text bodies of the access email.
func RenderApproval(msg ApprovalEmail) (htmlBody, textBody string, err error) {
	v := msg.view()

	var h, t bytes.Buffer
	if err := approvalHTML.Execute(&h, v); err != nil {
		return "", "", fmt.Errorf("notify: rendering html body: %w", err)
	}
	if err := approvalText.Execute(&t, v); err != nil {
		return "", "", fmt.Errorf("notify: rendering text body: %w", err)
	}
	return h.String(), t.String(), nil
}

// LogNotifier writes the access link to the log instead of sending mail.
// It is used when no SMTP account is configured, for local development.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendApproval(_ context.Context, msg ApprovalEmail) error {
	n.Logger.Warn("smtp not configured, approval email not sent",
		slog.String("to", msg.To),
		slog.String("link", msg.Link),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}
