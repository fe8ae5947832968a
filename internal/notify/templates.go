package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/orbit-erp/orbit/internal/sales"
)

// Each template defines a "subject" and a "body" block.
const templateSource = `
{{define "preorder_creditorder_informative_template/subject"}}{{.Company}}: payment {{.Milestone}} of {{.Order}} is due on {{date .DueDate}}{{end}}
{{define "preorder_creditorder_informative_template/body"}}Dear {{.Customer}},

This is a friendly reminder that payment {{.Milestone}} of your order {{.Order}}, amounting to {{money .Amount}} {{.Currency}}, is due on {{date .DueDate}}.

Please make sure the payment reaches us on time. You can ignore this message if you have already paid.

Kind regards,
{{.Company}}
{{end}}
{{define "preorder_creditorder_reminder_template/subject"}}{{.Company}}: {{.Order}} has an overdue balance{{end}}
{{define "preorder_creditorder_reminder_template/body"}}Dear {{.Customer}},

Our records show that {{money .Amount}} {{.Currency}} on your order {{.Order}} is {{.Days}} days overdue{{if .Milestone}} since payment {{.Milestone}} fell due on {{date .DueDate}}{{end}}.

Please settle the outstanding amount at your earliest convenience or contact us to agree on a plan.

Kind regards,
{{.Company}}
{{end}}
{{define "order_overdue_reminder_template/subject"}}{{.Company}}: {{.Order}} is past its validity date{{end}}
{{define "order_overdue_reminder_template/body"}}Dear {{.Customer}},

Your order {{.Order}} was valid until {{date .DueDate}} and {{money .Amount}} {{.Currency}} remains unpaid.

Please complete the payment so we can proceed with your order.

Kind regards,
{{.Company}}
{{end}}
`

// Message is a rendered e-mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Renderer renders reminder e-mails.
type Renderer struct {
	tmpl    *template.Template
	company string
}

type templateData struct {
	Company   string
	Customer  string
	Order     string
	Currency  string
	Milestone int
	DueDate   time.Time
	Amount    decimal.Decimal
	Days      int
}

// NewRenderer parses the reminder templates. Amounts are formatted in the
// customer's language.
func NewRenderer(company string) *Renderer {
	return &Renderer{
		tmpl:    template.Must(template.New("notify").Funcs(formatFuncs(message.NewPrinter(language.English))).Parse(templateSource)),
		company: company,
	}
}

func formatFuncs(printer *message.Printer) template.FuncMap {
	return template.FuncMap{
		"money": func(d decimal.Decimal) string {
			return printer.Sprintf("%.2f", d.InexactFloat64())
		},
		"date": func(t time.Time) string {
			return t.Format(time.DateOnly)
		},
	}
}

// Render builds the e-mail for a notice about o.
func (r *Renderer) Render(o *sales.Order, n Notice) (Message, error) {
	tmpl, err := r.tmpl.Clone()
	if err != nil {
		return Message{}, err
	}
	tmpl.Funcs(formatFuncs(message.NewPrinter(customerLanguage(o.CustomerLang))))

	data := templateData{
		Company:   r.company,
		Customer:  o.CustomerName,
		Order:     o.Name,
		Currency:  o.Currency,
		Milestone: n.Milestone,
		DueDate:   n.DueDate,
		Amount:    n.Amount,
		Days:      n.Days,
	}
	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, string(n.Template)+"/subject", data); err != nil {
		return Message{}, fmt.Errorf("notify: render %s subject: %w", n.Template, err)
	}
	if err := tmpl.ExecuteTemplate(&body, string(n.Template)+"/body", data); err != nil {
		return Message{}, fmt.Errorf("notify: render %s body: %w", n.Template, err)
	}
	return Message{
		To:      o.CustomerEmail,
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}

func customerLanguage(lang string) language.Tag {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" {
		return language.English
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	return tag
}
