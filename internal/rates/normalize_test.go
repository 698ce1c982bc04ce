package rates

import (
	"errors"
	"testing"

	"ordermod-billing/internal/domain"
)

func TestNormalizeRatedShipmentNestedString(t *testing.T) {
	payload := []byte(`{"RatedShipment": [{"Service": {"Code": "03", "Description": "Ground"}, "TotalCharges": {"CurrencyCode": "USD", "MonetaryValue": "12.34"}}]}`)
	quote, err := Normalize(payload, "03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ServiceCode != "03" {
		t.Fatalf("expected service code 03, got %q", quote.ServiceCode)
	}
	if quote.ServiceName != "Ground" {
		t.Fatalf("expected service name Ground, got %q", quote.ServiceName)
	}
	if quote.AmountCents != 1234 {
		t.Fatalf("expected 1234 cents, got %d", quote.AmountCents)
	}
}

func TestNormalizeBareArray(t *testing.T) {
	payload := []byte(`[{"serviceCode": "02", "serviceName": "2nd Day Air", "amount": 25.99}]`)
	quote, err := Normalize(payload, "03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ServiceCode != "02" || quote.AmountCents != 2599 {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestNormalizeRatesObject(t *testing.T) {
	payload := []byte(`{"rates": [{"code": "01", "name": "Next Day", "amountCents": 4500}]}`)
	quote, err := Normalize(payload, "03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.AmountCents != 4500 {
		t.Fatalf("expected minor-unit field to win, got %d", quote.AmountCents)
	}
}

func TestNormalizePrefersGroundCode(t *testing.T) {
	payload := []byte(`{"rates": [
		{"serviceCode": "01", "amount": 45.00},
		{"serviceCode": "03", "amount": 8.10},
		{"serviceCode": "02", "amount": 25.00}
	]}`)
	quote, err := Normalize(payload, "03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ServiceCode != "03" || quote.AmountCents != 810 {
		t.Fatalf("expected ground quote, got %+v", quote)
	}
}

func TestNormalizeFallsBackToFirstQuote(t *testing.T) {
	payload := []byte(`{"rates": [
		{"serviceCode": "12", "amount": 14.00},
		{"serviceCode": "59", "amount": 9.00}
	]}`)
	quote, err := Normalize(payload, "03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.ServiceCode != "12" || quote.AmountCents != 1400 {
		t.Fatalf("expected first quote preserved, got %+v", quote)
	}
}

func TestNormalizeMinorUnitFieldWinsOverDecimal(t *testing.T) {
	payload := []byte(`{"rates": [{"serviceCode": "03", "centAmount": 999, "amount": 12.00}]}`)
	quote, err := Normalize(payload, "03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.AmountCents != 999 {
		t.Fatalf("expected minor-unit priority, got %d", quote.AmountCents)
	}
}

func TestNormalizeEmptyShapesFail(t *testing.T) {
	for _, payload := range []string{`{"rates": []}`, `{}`, `[]`, `{"shipments": [{}]}`} {
		_, err := Normalize([]byte(payload), "03")
		if !errors.Is(err, domain.ErrRateUnavailable) {
			t.Fatalf("payload %s: expected ErrRateUnavailable, got %v", payload, err)
		}
	}
}

func TestNormalizeQuoteWithoutAmountFails(t *testing.T) {
	payload := []byte(`{"rates": [{"serviceCode": "03", "currency": "USD"}]}`)
	_, err := Normalize(payload, "03")
	if !errors.Is(err, domain.ErrMalformedRate) {
		t.Fatalf("expected ErrMalformedRate, got %v", err)
	}
}

func TestNormalizeInvalidJSONFails(t *testing.T) {
	_, err := Normalize([]byte(`{"rates": [`), "03")
	if !errors.Is(err, domain.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestDecimalToCentsRounding(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"12.34", 1234},
		{"12.345", 1235},
		{"12.344", 1234},
		{"12.3450", 1235},
		{"0.005", 1},
		{"-0.005", -1},
		{"-12.345", -1235},
		{"7", 700},
		{"7.5", 750},
		{".99", 99},
		{"+3.10", 310},
	}
	for _, tc := range cases {
		got, err := decimalToCents(tc.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestDecimalToCentsRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "12.3a", "12.34x9"} {
		if _, err := decimalToCents(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestDecimalToCentsRejectsDigitlessAmounts(t *testing.T) {
	// A sign or dot with no digits must never normalize to a 0-cent rate.
	for _, in := range []string{".", "-", "+", "-.", "+.", "- "} {
		_, err := decimalToCents(in)
		if !errors.Is(err, domain.ErrMalformedRate) {
			t.Fatalf("%q: expected ErrMalformedRate, got %v", in, err)
		}
	}
}
