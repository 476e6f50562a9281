package notification

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const layout = `<!doctype html>
<html lang="es">
<head>
  <meta charset="utf-8" />
  <style>
    body { margin: 0; padding: 32px; font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #ffffff; max-width: 640px; margin: 0 auto; padding: 40px; border-radius: 4px; }
    h1 { font-size: 20px; margin: 0 0 16px; }
    p { font-size: 14px; line-height: 1.6; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; font-weight: 600; }
    .amount { font-size: 24px; font-weight: 700; }
    table { width: 100%; border-collapse: collapse; font-size: 12px; }
    th { text-align: left; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 6px 4px; }
    td { border-bottom: 1px solid #f0f2f5; padding: 6px 4px; }
    .failed td { color: #be1e1e; }
    .footer { margin-top: 32px; font-size: 12px; color: #8792a2; }
  </style>
</head>
<body><div class="card">{{template "body" .}}<div class="footer">Alima · facturacion@alima.la</div></div></body>
</html>`

const paymentFailedBody = `{{define "body"}}
<h1>No pudimos procesar tu pago</h1>
<p>Hola {{.CustomerName}}, el intento de cobro {{.Attempt}} de tu suscripción Alima del periodo {{.Label}} fue rechazado.</p>
<div class="label">Monto</div><div class="amount">{{money .Amount .Currency}}</div>
{{if .Reason}}<p>Motivo: {{.Reason}}</p>{{end}}
<p>Volveremos a intentar el cobro mañana. Te quedan {{.DaysLeft}} días antes de que tu cuenta sea suspendida. Si deseas actualizar tu tarjeta, contáctanos.</p>
{{end}}`

const accountSuspendedBody = `{{define "body"}}
<h1>Tu cuenta Alima fue suspendida</h1>
<p>Hola {{.CustomerName}}, no recibimos el pago de tu suscripción del periodo {{.Label}} por {{money .Amount .Currency}}.</p>
<p>Tu cuenta quedó suspendida. Para reactivarla, realiza tu pago y escríbenos a facturacion@alima.la.</p>
{{end}}`

const transferPendingBody = `{{define "body"}}
<h1>Tu pago por SPEI está pendiente</h1>
<p>Hola {{.CustomerName}}, tu factura del periodo {{.Label}} está lista. Realiza una transferencia con los siguientes datos:</p>
<div class="label">Monto</div><div class="amount">{{money .Amount .Currency}}</div>
<table>
  <tr><th>Banco</th><td>{{.BankName}}</td></tr>
  <tr><th>CLABE</th><td>{{.Clabe}}</td></tr>
  {{if .Reference}}<tr><th>Referencia</th><td>{{.Reference}}</td></tr>{{end}}
</table>
{{if .HostedURL}}<p><a href="{{.HostedURL}}">Ver instrucciones de pago</a></p>{{end}}
<p>{{if eq .DaysLeft 1}}Te queda 1 día{{else}}Te quedan {{.DaysLeft}} días{{end}} para realizar tu pago antes de que tu cuenta sea suspendida.</p>
{{end}}`

const invoiceIssuedBody = `{{define "body"}}
<h1>Factura {{.Folio}}</h1>
<p>Hola {{.CustomerName}}, adjuntamos la factura de tu suscripción Alima del periodo {{.Label}}.</p>
<div class="label">Total</div><div class="amount">{{money .Total .Currency}}</div>
<p>{{if .Paid}}Tu pago fue recibido. ¡Gracias!{{else}}El pago está pendiente.{{end}}</p>
{{end}}`

const operatorReportBody = `{{define "body"}}
<h1>{{.Title}}</h1>
<p>{{date .GeneratedAt}} · {{len .Reports}} cuentas · {{.Failed}} con error</p>
<table>
  <tr><th>Cuenta</th><th>Cliente</th><th>Periodo</th><th>Proveedor</th><th>Resultado</th><th>Motivo</th></tr>
  {{range .Reports}}
  <tr{{if not .Success}} class="failed"{{end}}><td>{{.AccountID}}</td><td>{{.CustomerName}}</td><td>{{.InvoiceLabel}}</td><td>{{.Provider}}</td><td>{{.Outcome}}</td><td>{{.Reason}}</td></tr>
  {{else}}
  <tr><td colspan="6">Sin cuentas procesadas.</td></tr>
  {{end}}
</table>
{{end}}`

type renderer struct {
	templates map[string]*template.Template
}

func newRenderer() *renderer {
	funcs := template.FuncMap{
		"money": formatMoney,
		"date":  formatDate,
	}
	bodies := map[string]string{
		tplPaymentFailed:    paymentFailedBody,
		tplAccountSuspended: accountSuspendedBody,
		tplTransferPending:  transferPendingBody,
		tplInvoiceIssued:    invoiceIssuedBody,
		tplOperatorReport:   operatorReportBody,
	}
	r := &renderer{templates: make(map[string]*template.Template, len(bodies))}
	for name, body := range bodies {
		tpl := template.Must(template.New(name).Funcs(funcs).Parse(layout))
		r.templates[name] = template.Must(tpl.Parse(body))
	}
	return r
}

const (
	tplPaymentFailed    = "payment_failed"
	tplAccountSuspended = "account_suspended"
	tplTransferPending  = "transfer_pending"
	tplInvoiceIssued    = "invoice_issued"
	tplOperatorReport   = "operator_report"
)

func (r *renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates[name].Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatMoney renders 1234.5 as "$1,234.50 MXN".
func formatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "MXN"
	}
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + "$" + b.String() + "." + frac + " " + currency
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Format("2006-01-02 15:04")
}
