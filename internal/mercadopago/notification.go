package mercadopago

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// ID accepts both JSON numbers and strings; the processor is not consistent.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("mercadopago: id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Notification is a "payment changed" push. Only Data.ID is meaningful;
// everything else must be re-read from the API.
type Notification struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	UserID   ID     `json:"user_id"`
	LiveMode bool   `json:"live_mode"`
	Data     struct {
		ID ID `json:"id"`
	} `json:"data"`
}

func (n Notification) IsPayment() bool { return n.Type == "payment" && n.Data.ID != "" }

// ParseNotification decodes a webhook body, falling back to the legacy IPN
// query form (?topic=payment&id=123 or ?type=payment&data.id=123).
func ParseNotification(body []byte, query url.Values) (Notification, error) {
	var n Notification
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return n, fmt.Errorf("mercadopago: decode notification: %w", err)
		}
	}
	if n.Type == "" {
		n.Type = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	if n.Data.ID == "" {
		n.Data.ID = ID(firstNonEmpty(query.Get("data.id"), query.Get("id")))
	}
	if n.UserID == "" {
		if uid := query.Get("user_id"); uid != "" {
			if _, err := strconv.ParseInt(uid, 10, 64); err == nil {
				n.UserID = ID(uid)
			}
		}
	}
	return n, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
