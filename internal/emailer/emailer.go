// Package emailer renders the finished report as an HTML mail and delivers
// it through the transactional mail backend. Delivery is all-or-nothing: a
// non-2xx backend response is a terminal error, never a partial send.
package emailer

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/sendgrid"
)

// MaxEmailSize caps the rendered HTML document.
const MaxEmailSize = 500_000

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Emailer delivers reports.
type Emailer struct {
	client    sendgrid.Client
	fromEmail string
	fromName  string
}

// New creates an Emailer sending from the given address.
func New(client sendgrid.Client, fromEmail, fromName string) *Emailer {
	return &Emailer{client: client, fromEmail: fromEmail, fromName: fromName}
}

// Deliver validates the destination, renders the mail and sends it. The
// returned result carries the backend status code and the product links
// included in the mail, for diagnostics.
func (e *Emailer) Deliver(ctx context.Context, report model.ReportData, toEmail string, products []model.ProductItem) (model.DeliveryResult, error) {
	if strings.TrimSpace(report.MarkdownReport) == "" {
		return model.DeliveryResult{}, eris.New("emailer: report is empty")
	}
	if !emailPattern.MatchString(toEmail) {
		return model.DeliveryResult{}, eris.Errorf("emailer: invalid destination address %q", toEmail)
	}
	if e.fromEmail == "" {
		return model.DeliveryResult{}, eris.New("emailer: from address is not configured")
	}

	htmlContent, err := renderHTML(report, products)
	if err != nil {
		return model.DeliveryResult{}, err
	}
	if len(htmlContent) > MaxEmailSize {
		return model.DeliveryResult{}, eris.Errorf("emailer: rendered mail of %d chars exceeds the size limit", len(htmlContent))
	}

	result, err := e.client.Send(ctx, sendgrid.MailRequest{
		FromEmail: e.fromEmail,
		FromName:  e.fromName,
		ToEmail:   toEmail,
		Subject:   deriveSubject(report),
		HTML:      htmlContent,
	})
	if err != nil {
		return model.DeliveryResult{}, eris.Wrap(err, "emailer: send mail")
	}

	links := make([]string, 0, len(products))
	for _, p := range products {
		links = append(links, p.URL)
	}

	zap.L().Info("emailer: report delivered",
		zap.Int("status_code", result.StatusCode),
		zap.Int("html_chars", len(htmlContent)),
		zap.Int("links", len(links)),
	)

	return model.DeliveryResult{
		Status:     "sent",
		StatusCode: result.StatusCode,
		Links:      links,
	}, nil
}

// deriveSubject builds the subject from the first sentence of the short
// summary, falling back to the report title.
func deriveSubject(report model.ReportData) string {
	headline := report.ShortSummary
	if idx := strings.Index(headline, "."); idx >= 0 {
		headline = headline[:idx]
	}
	headline = strings.TrimSpace(headline)
	if headline == "" {
		headline = extractTitle(report.MarkdownReport)
	}
	return "Premium DIY-Report: " + headline
}
