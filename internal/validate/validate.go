// Package validate normalizes the extraction stage's raw output into
// canonical records. A record with any validation error is never persisted
// or passed downstream.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/finlake/tradeflow/model"
)

// currencyAliases maps recognized symbols and informal codes to ISO-4217.
// Unrecognized values are errors, never guesses.
var currencyAliases = map[string]string{
	"$":      "USD",
	"US$":    "USD",
	"USD":    "USD",
	"DOLLAR": "USD",
	"€":      "EUR",
	"EUR":    "EUR",
	"EURO":   "EUR",
	"£":      "GBP",
	"GBP":    "GBP",
	"STG":    "GBP",
	"¥":      "JPY",
	"JPY":    "JPY",
	"YEN":    "JPY",
	"CHF":    "CHF",
	"SFR":    "CHF",
	"AUD":    "AUD",
	"A$":     "AUD",
	"CAD":    "CAD",
	"C$":     "CAD",
	"SGD":    "SGD",
	"S$":     "SGD",
	"HKD":    "HKD",
	"HK$":    "HKD",
}

// dateLayouts lists the source date formats recognized, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
	"01/02/2006",
	"02-Jan-2006",
	"2 January 2006",
	"Jan 2, 2006",
	"20060102",
}

// ValidateAndNormalize checks the required-field set and normalizes
// currency and dates. Every problem appends its own error so callers see
// all failures at once, not just the first. ok is false whenever errors
// is non-empty.
func ValidateAndNormalize(raw model.RawRecord, correlationID, sourceDocument string) (model.CanonicalRecord, []string, bool) {
	var errs []string
	rec := model.CanonicalRecord{
		RecordID:       strings.TrimSpace(raw.RecordID),
		Counterparty:   strings.TrimSpace(raw.Counterparty),
		ProductType:    strings.TrimSpace(raw.ProductType),
		CorrelationID:  correlationID,
		SourceDocument: sourceDocument,
		ExtractedAt:    time.Now().UTC(),
	}

	if rec.RecordID == "" {
		errs = append(errs, "record_id is required")
	}
	if rec.Counterparty == "" {
		errs = append(errs, "counterparty is required")
	}

	if strings.TrimSpace(raw.Amount) == "" {
		errs = append(errs, "amount is required")
	} else {
		amount, err := parseAmount(raw.Amount)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("amount %q is not a valid decimal", raw.Amount))
		case amount <= 0:
			errs = append(errs, fmt.Sprintf("amount %v must be positive", amount))
		default:
			rec.Amount = amount
		}
	}

	if strings.TrimSpace(raw.Currency) == "" {
		errs = append(errs, "currency is required")
	} else {
		code, err := NormalizeCurrency(raw.Currency)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			rec.Currency = code
		}
	}

	if strings.TrimSpace(raw.EffectiveDate) == "" {
		errs = append(errs, "effective_date is required")
	} else {
		date, err := NormalizeDate(raw.EffectiveDate)
		if err != nil {
			errs = append(errs, fmt.Sprintf("effective_date %q is not a recognized date", raw.EffectiveDate))
		} else {
			rec.EffectiveDate = date
		}
	}

	if strings.TrimSpace(raw.MaturityDate) != "" {
		date, err := NormalizeDate(raw.MaturityDate)
		if err != nil {
			errs = append(errs, fmt.Sprintf("maturity_date %q is not a recognized date", raw.MaturityDate))
		} else {
			rec.MaturityDate = date
		}
	}

	return rec, errs, len(errs) == 0
}

// NormalizeCurrency maps an alias or symbol to its ISO-4217 code.
func NormalizeCurrency(value string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(value))
	if code, ok := currencyAliases[key]; ok {
		return code, nil
	}
	// A three-letter uppercase code outside the alias map is accepted as-is
	// only if it looks like ISO-4217.
	if len(key) == 3 && isUpperAlpha(key) {
		return key, nil
	}
	return "", fmt.Errorf("currency %q could not be normalized to ISO-4217", value)
}

// NormalizeDate parses a recognized source format and re-emits ISO-8601
// (YYYY-MM-DD). Unparseable dates are errors, not defaults.
func NormalizeDate(value string) (string, error) {
	v := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("date %q did not match any recognized format", value)
}

func parseAmount(value string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	return strconv.ParseFloat(cleaned, 64)
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
