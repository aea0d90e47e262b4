package extraction

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
)

// QRConfidence is assigned to fields read from an e-invoice QR code, which
// carries the issuer's own digital values.
const QRConfidence = 100

var qrKeys = map[expense.Field][]string{
	expense.FieldDate:      {"tarih", "date"},
	expense.FieldAmount:    {"tutar", "amount", "toplam", "odenecek"},
	expense.FieldVATAmount: {"kdv", "vat", "hesaplanankdv"},
	expense.FieldVendor:    {"firma", "company", "unvan", "satici"},
}

var qrInvoiceKeys = []string{"faturano", "invoiceno", "no"}

// ParseQR reads an e-invoice QR payload, either a JSON object or a
// key=value&key=value query string. Unknown shapes produce an empty candidate
// with a note asking for manual entry.
func ParseQR(payload string, dateRules []Rule) expense.Candidate {
	var c expense.Candidate
	payload = strings.TrimSpace(payload)

	values, err := qrValues(payload)
	if err != nil || len(values) == 0 {
		c.AddNote("QR code could not be read, enter the fields manually")
		return c
	}

	c.Confidence = expense.Confidence{}
	if v := lookup(values, qrKeys[expense.FieldDate]); v != "" {
		if m, ok := Apply(dateRules, v); ok {
			if d, err := civil.ParseDate(m.Value); err == nil {
				c.Date = expense.Some(d)
				c.Confidence[expense.FieldDate] = QRConfidence
			}
		}
	}
	if d, ok := qrDecimal(lookup(values, qrKeys[expense.FieldAmount])); ok {
		c.Amount = expense.Some(d)
		c.Confidence[expense.FieldAmount] = QRConfidence
	}
	if d, ok := qrDecimal(lookup(values, qrKeys[expense.FieldVATAmount])); ok {
		c.VATAmount = expense.Some(d)
		c.Confidence[expense.FieldVATAmount] = QRConfidence
	}
	if v := lookup(values, qrKeys[expense.FieldVendor]); v != "" {
		c.VendorName = expense.Some(v)
		c.Confidence[expense.FieldVendor] = QRConfidence
	}
	if no := lookup(values, qrInvoiceKeys); no != "" {
		c.AddNote("invoice no: " + no)
	}
	c.AddNote("read from QR: " + payload)
	return c
}

func qrValues(payload string) (map[string]string, error) {
	out := map[string]string{}
	switch {
	case strings.HasPrefix(payload, "{"):
		var raw map[string]any
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, fmt.Errorf("decoding qr json: %w", err)
		}
		for k, v := range raw {
			if v == nil {
				continue
			}
			out[strings.ToLower(k)] = strings.TrimSpace(fmt.Sprint(v))
		}
	case strings.Contains(payload, "="):
		q, err := url.ParseQuery(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding qr query: %w", err)
		}
		for k := range q {
			out[strings.ToLower(k)] = strings.TrimSpace(q.Get(k))
		}
	}
	return out, nil
}

func lookup(values map[string]string, keys []string) string {
	for _, k := range keys {
		if v := values[k]; v != "" {
			return v
		}
	}
	return ""
}

func qrDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Decimal{}, false
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, !d.IsNegative()
	}
	n, ok := NormalizeNumber(s)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n)
	return d, err == nil && !d.IsNegative()
}
