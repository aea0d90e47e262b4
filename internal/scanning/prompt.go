package scanning

import (
	"strings"

	"github.com/zombor/expense-tracker/internal/expense"
)

const systemPrompt = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text and extract accurate information."

// receiptScanPrompt is the shared prompt used by all LLM providers
const receiptScanPrompt = `You are analyzing a receipt or invoice, most likely Turkish. Extract the following information:

1. **Company name**: the merchant or business name, usually the first or largest line.

2. **Date**: the transaction or invoice date in ISO 8601 format (YYYY-MM-DD). Turkish receipts print dates as DD.MM.YYYY.

3. **Amount**: the final total paid (TOPLAM, GENEL TOPLAM, ÖDENECEK, TOTAL). Use a dot as the decimal separator.

4. **VAT amount**: the total VAT (TOPKDV, KDV TOPLAM, KDV).

5. **VAT rate**: the VAT percentage if a single one is printed (e.g. %10 or %20). If the receipt mixes several rates, use null.

6. **Category**: exactly one of: {{categories}}.

Return ONLY valid JSON in this exact format:
{
  "date": "YYYY-MM-DD",
  "company_name": "Store Name",
  "amount": 0.00,
  "vat_rate": 0,
  "vat_amount": 0.00,
  "category": "Other",
  "notes": "anything unusual",
  "confidence": {"date": 0, "company_name": 0, "amount": 0, "vat_rate": 0, "vat_amount": 0, "category": 0}
}

Important:
- Numbers must be JSON numbers, not strings
- If you cannot find a field, use null for that field
- confidence values are 0-100 and may be omitted
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildPrompt fills in the category vocabulary and appends recognized text.
func buildPrompt(req Request) string {
	names := make([]string, 0, len(expense.PredefinedCategories()))
	for _, c := range expense.PredefinedCategories() {
		names = append(names, c.String())
	}
	prompt := strings.Replace(receiptScanPrompt, "{{categories}}", strings.Join(names, ", "), 1)
	if strings.TrimSpace(req.Text) != "" {
		prompt += "\n\nRecognized receipt text:\n" + req.Text
	}
	return prompt
}
