package rates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"time"

	"ordermod-billing/internal/domain"
)

// Rater combines the carrier rating client, the normalizer and the quote
// cache into a single pricing entry point.
type Rater struct {
	client     Client
	cache      QuoteCache
	groundCode string
	cacheTTL   time.Duration
	logger     *log.Logger
}

func NewRater(client Client, cache QuoteCache, groundCode string, cacheTTL time.Duration, logger *log.Logger) *Rater {
	if cache == nil {
		cache = NoopQuoteCache{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Rater{
		client:     client,
		cache:      cache,
		groundCode: groundCode,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Quote prices a shipment, serving from cache when possible. Cache failures
// are logged and fall through to the carrier.
func (r *Rater) Quote(ctx context.Context, address domain.AddressSnapshot, pkg domain.PackageSnapshot) (domain.RateQuote, error) {
	key := quoteKey(address, pkg)

	cached, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Printf("quote cache get: %v", err)
	}
	if ok {
		return *cached, nil
	}

	raw, err := r.client.Rates(ctx, address, pkg)
	if err != nil {
		return domain.RateQuote{}, err
	}

	quote, err := Normalize(raw, r.groundCode)
	if err != nil {
		return domain.RateQuote{}, err
	}

	if err := r.cache.Set(ctx, key, &quote, r.cacheTTL); err != nil {
		r.logger.Printf("quote cache set: %v", err)
	}
	return quote, nil
}

func quoteKey(address domain.AddressSnapshot, pkg domain.PackageSnapshot) string {
	payload, _ := json.Marshal(struct {
		Address domain.AddressSnapshot `json:"address"`
		Package domain.PackageSnapshot `json:"package"`
	}{address, pkg})
	sum := sha256.Sum256(payload)
	return "quote:" + hex.EncodeToString(sum[:])
}
