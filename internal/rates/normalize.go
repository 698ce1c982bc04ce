// Package rates turns heterogeneous carrier-quote payloads into canonical
// integer-cent quotes and fetches them from the carrier rating service.
package rates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ordermod-billing/internal/domain"
)

// DefaultGroundCode is the carrier's standard (cheapest, non-expedited)
// service tier, preferred when a response carries several quotes.
const DefaultGroundCode = "03"

// Normalize parses an arbitrarily-shaped carrier rating payload and selects
// one canonical quote. It is a pure function over its input.
//
// Shape priority: a bare array of rate objects, then an object with a
// "rates" array, then an object with a "RatedShipment" array. The first
// shape that is present and non-empty wins; otherwise ErrRateUnavailable.
//
// Quote selection prefers the quote whose service code equals groundCode;
// when none matches, the first quote wins. Array order encodes the
// carrier's own ranking and is preserved, not re-sorted.
func Normalize(payload []byte, groundCode string) (domain.RateQuote, error) {
	if groundCode == "" {
		groundCode = DefaultGroundCode
	}

	candidates, err := extractCandidates(payload)
	if err != nil {
		return domain.RateQuote{}, err
	}

	chosen := candidates[0]
	for _, c := range candidates {
		if serviceCode(c) == groundCode {
			chosen = c
			break
		}
	}

	cents, err := amountCents(chosen)
	if err != nil {
		return domain.RateQuote{}, err
	}

	return domain.RateQuote{
		ServiceCode: serviceCode(chosen),
		ServiceName: serviceName(chosen),
		AmountCents: cents,
	}, nil
}

func extractCandidates(payload []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty response", domain.ErrRateUnavailable)
	}

	// Bare array of rate objects.
	if trimmed[0] == '[' {
		var arr []any
		if err := decodeNumbers(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
		}
		if quotes := objectsOf(arr); len(quotes) > 0 {
			return quotes, nil
		}
		return nil, fmt.Errorf("%w: empty rate array", domain.ErrRateUnavailable)
	}

	var obj map[string]any
	if err := decodeNumbers(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRateUnavailable, err)
	}

	for _, key := range []string{"rates", "RatedShipment"} {
		arr, ok := obj[key].([]any)
		if !ok {
			continue
		}
		if quotes := objectsOf(arr); len(quotes) > 0 {
			return quotes, nil
		}
	}
	return nil, fmt.Errorf("%w: no recognized rate array in response", domain.ErrRateUnavailable)
}

// decodeNumbers unmarshals with json.Number so amounts never pass through
// float64.
func decodeNumbers(payload []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	return dec.Decode(dst)
}

func objectsOf(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func serviceCode(quote map[string]any) string {
	for _, key := range []string{"serviceCode", "service_code", "code"} {
		if s, ok := quote[key].(string); ok && s != "" {
			return s
		}
	}
	if svc, ok := quote["Service"].(map[string]any); ok {
		if s, ok := svc["Code"].(string); ok {
			return s
		}
	}
	return ""
}

func serviceName(quote map[string]any) string {
	for _, key := range []string{"serviceName", "service", "name"} {
		if s, ok := quote[key].(string); ok && s != "" {
			return s
		}
	}
	if svc, ok := quote["Service"].(map[string]any); ok {
		if s, ok := svc["Description"].(string); ok {
			return s
		}
	}
	return ""
}

// amountCents extracts the quote amount, first non-missing wins:
// an already-integer minor-unit field, then a decimal major-unit number,
// then a decimal string (top-level or nested under TotalCharges).
func amountCents(quote map[string]any) (int64, error) {
	for _, key := range []string{"amountCents", "centAmount"} {
		if n, ok := quote[key].(json.Number); ok {
			if cents, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				return cents, nil
			}
		}
	}

	for _, key := range []string{"amount", "rate", "totalCharges", "shipmentCost"} {
		switch v := quote[key].(type) {
		case json.Number:
			return decimalToCents(v.String())
		case string:
			return decimalToCents(v)
		}
	}

	if tc, ok := quote["TotalCharges"].(map[string]any); ok {
		switch v := tc["MonetaryValue"].(type) {
		case string:
			return decimalToCents(v)
		case json.Number:
			return decimalToCents(v.String())
		}
	}

	return 0, fmt.Errorf("%w: quote carries no amount field", domain.ErrMalformedRate)
}

// decimalToCents converts a decimal major-unit amount ("12.34") to integer
// cents, rounding half away from zero. Parsing is integer-only; the value
// never passes through a float.
func decimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", domain.ErrMalformedRate)
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	// A sign or a dot alone carries no digits; defaulting it to zero would
	// turn a broken quote into a free rate.
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: unparseable amount %q", domain.ErrMalformedRate, s)
	}
	if intPart == "" {
		intPart = "0"
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable amount %q", domain.ErrMalformedRate, s)
	}

	cents := int64(0)
	for i := 0; i < 2; i++ {
		cents *= 10
		if i < len(fracPart) {
			d := fracPart[i]
			if d < '0' || d > '9' {
				return 0, fmt.Errorf("%w: unparseable amount %q", domain.ErrMalformedRate, s)
			}
			cents += int64(d - '0')
		}
	}
	// Round half away from zero on the third fractional digit.
	if len(fracPart) > 2 && fracPart[2] >= '5' && fracPart[2] <= '9' {
		cents++
	}
	if len(fracPart) > 2 {
		for _, d := range fracPart[2:] {
			if d < '0' || d > '9' {
				return 0, fmt.Errorf("%w: unparseable amount %q", domain.ErrMalformedRate, s)
			}
		}
	}

	total := units*100 + cents
	if units > (1<<62)/100 {
		return 0, fmt.Errorf("%w: amount %q out of range", domain.ErrAmountOverflow, s)
	}
	if negative {
		total = -total
	}
	return total, nil
}
