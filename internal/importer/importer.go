// Package importer backfills change requests from CSV exports of the
// legacy billing spreadsheet.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ordermod-billing/internal/domain"
	"ordermod-billing/internal/reconcile"
)

type RequestWriter interface {
	Insert(ctx context.Context, cr domain.ChangeRequest) error
}

// CSVImporter reads legacy change request exports and inserts them as-is,
// recomputing the additional cost from the raw amounts so historic
// hand-edited values cannot survive the migration.
type CSVImporter struct {
	reader      *csv.Reader
	requestRepo RequestWriter
}

func NewCSVImporter(r io.Reader, repo RequestWriter) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader:      csvr,
		requestRepo: repo,
	}
}

// Run parses CSV rows and inserts one change request per row.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)

	imported := 0
	line := 1
	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return imported, fmt.Errorf("read row %d: %w", line, err)
		}

		cr, err := parseRow(record, index)
		if err != nil {
			return imported, fmt.Errorf("row %d: %w", line, err)
		}
		if cr == nil {
			continue
		}

		if err := i.requestRepo.Insert(ctx, *cr); err != nil {
			return imported, fmt.Errorf("insert request %s (row %d): %w", cr.ID, line, err)
		}
		imported++
	}

	return imported, nil
}

func parseRow(record []string, index map[string]int) (*domain.ChangeRequest, error) {
	orderRef := pick(record, index, "order_ref")
	if orderRef == "" {
		// Blank padding rows at the bottom of exports.
		if strings.Join(record, "") == "" {
			return nil, nil
		}
		return nil, errors.New("missing order_ref")
	}

	status := domain.Status(pick(record, index, "status"))
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}

	cr := domain.ChangeRequest{
		ID:       pick(record, index, "id"),
		OrderRef: orderRef,
		Status:   status,
		Notes:    pick(record, index, "notes"),
	}
	if cr.ID == "" {
		cr.ID = uuid.NewString()
	}

	var err error
	if cr.OriginalAddress, err = parseSnapshot[domain.AddressSnapshot](record, index, "original_address"); err != nil {
		return nil, err
	}
	if cr.ProposedAddress, err = parseSnapshot[domain.AddressSnapshot](record, index, "proposed_address"); err != nil {
		return nil, err
	}
	if cr.OriginalPackage, err = parseSnapshot[domain.PackageSnapshot](record, index, "original_package"); err != nil {
		return nil, err
	}
	if cr.ProposedPackage, err = parseSnapshot[domain.PackageSnapshot](record, index, "proposed_package"); err != nil {
		return nil, err
	}

	cr.Kind, err = domain.DeriveKind(cr.OriginalAddress, cr.ProposedAddress, cr.OriginalPackage, cr.ProposedPackage)
	if err != nil {
		return nil, err
	}

	paid, err := parseCents(record, index, "customer_paid_cents")
	if err != nil {
		return nil, err
	}
	if paid == nil {
		return nil, errors.New("missing customer_paid_cents")
	}
	newRate, err := parseCents(record, index, "new_rate_cents")
	if err != nil {
		return nil, err
	}
	if newRate == nil {
		return nil, errors.New("missing new_rate_cents")
	}
	origRate, err := parseCents(record, index, "original_rate_cents")
	if err != nil {
		return nil, err
	}

	// The export carries an additional_cost column, but old rows were
	// corrected by hand; recompute instead of trusting it.
	result, err := reconcile.Reconcile(*paid, origRate, *newRate)
	if err != nil {
		return nil, err
	}
	cr.Costs = domain.Costs{
		CustomerPaidCents:   *paid,
		OriginalRateCents:   origRate,
		NewRateCents:        *newRate,
		AdditionalCostCents: result.AdditionalCostCents,
	}

	cr.Checkout.SessionRef = pick(record, index, "checkout_session_ref")
	cr.Checkout.PaymentURL = pick(record, index, "payment_url")
	cr.Checkout.SettledOrderRef = pick(record, index, "settled_order_ref")

	if cr.CreatedAt, err = parseTimeRequired(record, index, "created_at"); err != nil {
		return nil, err
	}
	if cr.InvoiceSentAt, err = parseTime(record, index, "invoice_sent_at"); err != nil {
		return nil, err
	}
	if cr.PaidAt, err = parseTime(record, index, "paid_at"); err != nil {
		return nil, err
	}
	if cr.AppliedAt, err = parseTime(record, index, "applied_at"); err != nil {
		return nil, err
	}
	if cr.CancelledAt, err = parseTime(record, index, "cancelled_at"); err != nil {
		return nil, err
	}
	if cr.ExpiresAt, err = parseTime(record, index, "expires_at"); err != nil {
		return nil, err
	}

	return &cr, nil
}

func parseSnapshot[T any](record []string, index map[string]int, key string) (*T, error) {
	raw := pick(record, index, key)
	if raw == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return &v, nil
}

func parseCents(record []string, index map[string]int, key string) (*int64, error) {
	raw := pick(record, index, key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return &n, nil
}

func parseTime(record []string, index map[string]int, key string) (*time.Time, error) {
	raw := pick(record, index, key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	t = t.UTC()
	return &t, nil
}

func parseTimeRequired(record []string, index map[string]int, key string) (time.Time, error) {
	t, err := parseTime(record, index, key)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}
	return *t, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[h] = i
	}
	return idx
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
