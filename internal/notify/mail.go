package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/pricing"
	"github.com/rs/zerolog/log"
)

type Mail struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Template string `json:"template"`
	HTML     string `json:"html"`
}

var mailFuncs = template.FuncMap{
	"inr": pricing.FormatINR,
	"lineTotal": func(price int64, qty int) int64 {
		return price * int64(qty)
	},
	"date": func(t time.Time) string { return t.Format("02 Jan 2006") },
}

var mailTemplates = template.Must(template.New("mail").Funcs(mailFuncs).Parse(`
{{define "order_confirmation"}}<h1>Thank you for your order, {{.ShippingInfo.FirstName}}!</h1>
<p>Order #{{.OrderNumber}} placed on {{date .PlacedAt}}.</p>
<table>{{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{inr (lineTotal .UnitPrice .Quantity)}}</td></tr>{{end}}</table>
<p>Subtotal: {{inr .Subtotal}}<br>Tax: {{inr .Tax}}<br>Shipping: {{if eq .Shipping 0}}Free{{else}}{{inr .Shipping}}{{end}}<br><strong>Total: {{inr .Total}}</strong></p>
<p>Shipping to {{.ShippingInfo.Address}}, {{.ShippingInfo.City}} {{.ShippingInfo.ZipCode}}</p>{{end}}
{{define "order_shipped"}}<p>Hi {{.Name}}, your order #{{.OrderNumber}} is on its way.</p>
<p>Tracking number: <strong>{{.TrackingNumber}}</strong></p>{{end}}
{{define "order_delivered"}}<p>Hi {{.Name}}, your order #{{.OrderNumber}} was delivered on {{date .DeliveredAt}}.</p>{{end}}
{{define "order_cancelled"}}<p>Hi {{.Name}}, your order #{{.OrderNumber}} ({{inr .Total}}) has been cancelled.</p>{{end}}
{{define "low_stock_alert"}}<p>{{.Name}} ({{.ProductID}}) is down to {{.Available}} units (threshold {{.Threshold}}).</p>{{end}}
`))

// Render turns an event into a mail. Low-stock alerts go to adminEmail.
func Render(ev Event, adminEmail string) (Mail, error) {
	var m Mail
	switch e := ev.(type) {
	case OrderPlaced:
		m = Mail{To: e.Email, Subject: fmt.Sprintf("Order confirmation #%s", e.OrderNumber), Template: "order_confirmation"}
	case OrderShipped:
		m = Mail{To: e.Email, Subject: fmt.Sprintf("Your order #%s has been shipped!", e.OrderNumber), Template: "order_shipped"}
	case OrderDelivered:
		m = Mail{To: e.Email, Subject: fmt.Sprintf("Your order #%s has been delivered!", e.OrderNumber), Template: "order_delivered"}
	case OrderCancelled:
		m = Mail{To: e.Email, Subject: fmt.Sprintf("Your order #%s has been cancelled", e.OrderNumber), Template: "order_cancelled"}
	case LowStock:
		m = Mail{To: adminEmail, Subject: fmt.Sprintf("Low stock: %s", e.Name), Template: "low_stock_alert"}
	default:
		return Mail{}, fmt.Errorf("no mail for event %s", ev.Kind())
	}
	if m.To == "" {
		return Mail{}, fmt.Errorf("%s: no recipient", ev.Kind())
	}
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, m.Template, ev); err != nil {
		return Mail{}, fmt.Errorf("render %s: %w", m.Template, err)
	}
	m.HTML = buf.String()
	return m, nil
}

type Mailer interface {
	Deliver(ctx context.Context, m Mail) error
}

// HTTPMailer posts mails as JSON to a relay endpoint.
type HTTPMailer struct {
	URL    string
	Client *http.Client
}

func (h *HTTPMailer) Deliver(ctx context.Context, m Mail) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail relay: status %d", resp.StatusCode)
	}
	return nil
}

type LogMailer struct{}

func (LogMailer) Deliver(_ context.Context, m Mail) error {
	log.Info().Str("to", m.To).Str("subject", m.Subject).Str("template", m.Template).Msg("mail")
	return nil
}
