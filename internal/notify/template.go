package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

type mailLine struct {
	Quantity     int
	Name         string
	Total        string
	Instructions string
}

type mailData struct {
	orders.OrderPaidPayload
	Total             string
	Lines             []mailLine
	OriginalRecipient string
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="padding: 20px; text-align: center;">
    {{if .RestaurantLogo}}<img src="{{.RestaurantLogo}}" alt="{{.RestaurantName}}" style="max-height: 60px;">{{end}}
    <h1 style="color: #333;">¡Pago Confirmado!</h1>
    <p>Pedido #{{.OrderNumber}}</p>
  </div>
  <div style="padding: 20px;">
    <p>{{if .PayerName}}¡Hola {{.PayerName}}!{{else}}¡Hola!{{end}} Tu pago ha sido procesado exitosamente.</p>
    <p><strong>Restaurant:</strong> {{.RestaurantName}}<br><strong>Total Pagado:</strong> ${{.Total}}</p>
    <ul>
    {{range .Lines}}<li>{{.Quantity}}x {{.Name}} - ${{.Total}}{{if .Instructions}} ({{.Instructions}}){{end}}</li>
    {{end}}</ul>
    {{if and .Takeaway .PickupCode}}
    <div style="border: 2px dashed {{.PrimaryColor}}; padding: 15px; text-align: center;">
      <p>Tu código de retiro es:</p>
      <div style="font-family: 'Courier New', monospace; font-size: 32px; letter-spacing: 8px; color: {{.PrimaryColor}};">{{.PickupCode}}</div>
    </div>
    {{end}}
    {{if .Sandbox}}<p style="background-color: #fff3cd; padding: 15px;"><strong>Modo Prueba:</strong> enviado en modo sandbox. El cliente original era: {{.OriginalRecipient}}</p>{{end}}
  </div>
</div>`))

func subject(p orders.OrderPaidPayload) string {
	return fmt.Sprintf("¡Pago confirmado! Pedido #%d - %s", p.OrderNumber, p.RestaurantName)
}

func render(p orders.OrderPaidPayload, lines []orders.OrderLine, names map[string]orders.CatalogItem, original string) (string, error) {
	data := mailData{OrderPaidPayload: p, Total: p.TotalAmount.StringFixed(2), OriginalRecipient: original}
	for _, l := range lines {
		name := l.MenuItemID
		if it, ok := names[l.MenuItemID]; ok {
			name = it.Name
		}
		data.Lines = append(data.Lines, mailLine{
			Quantity:     l.Quantity,
			Name:         name,
			Total:        l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).StringFixed(2),
			Instructions: l.SpecialInstructions,
		})
	}
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
