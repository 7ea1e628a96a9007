package analysis

// billPrompt is the shared prompt used by the LLM analyzers. It asks for the same
// document shape the analysis backend returns so both go through Parse.
const billPrompt = `You are analyzing a photo of a utility bill (electricity, water or natural gas). Read all text in the image and extract:

1. **Provider**: the utility company that issued the bill.
2. **Invoice date** and **due date** exactly as printed.
3. **Total amount** due, as a number without currency symbols.
4. For electricity bills, the meter index difference for each tariff period that appears on the bill: day ("gunduz"), peak ("puant"), night ("gece").
5. **Total consumption** and **average unit cost** for the billing period.
6. One or two sentences of practical advice for lowering the next bill.

Return ONLY valid JSON in this exact format:
{
  "provider": "Company name",
  "invoice_date": "dd/MM/yyyy",
  "due_date": "dd/MM/yyyy",
  "total_amount": 0.00,
  "items": {
    "gunduz": {"index": {"fark": 0}},
    "puant": {"index": {"fark": 0}},
    "gece": {"index": {"fark": 0}}
  },
  "analysis": {
    "total_consumption": 0,
    "average_cost": 0.00,
    "advice": "..."
  }
}

Important:
- Numbers must be JSON numbers, not strings
- If you cannot find a field, use null for that field or leave the tariff out of "items"
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
