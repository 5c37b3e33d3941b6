// Package rate resolves the ETH/USD exchange rate frozen into a session at
// start time. A live price feed is tried first; on any failure the
// statically configured rate is used instead.
package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tablecash/cashier/internal/metrics"
	"github.com/tablecash/cashier/internal/model"
	"github.com/tablecash/cashier/internal/units"
)

// DefaultFeedURL is the CoinGecko simple-price endpoint for ETH in USD.
const DefaultFeedURL = "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd"

// Rate sources recorded on the session.
const (
	SourceFeed   = "CoinGecko"
	SourceStatic = "env(ETH_USD_RATE)"
)

var (
	// ErrUnavailable is returned when neither the feed nor the static
	// override yields a usable rate.
	ErrUnavailable = errors.New("rate: unable to resolve ETH/USD exchange rate")

	// ErrFeedStatus is returned by the feed on a non-2xx response.
	ErrFeedStatus = errors.New("rate: unexpected price feed status")

	// ErrFeedPayload is returned when the feed body is malformed or the
	// price is missing or non-positive.
	ErrFeedPayload = errors.New("rate: invalid price feed payload")
)

// Feed fetches the current USD price of one ETH.
type Feed interface {
	FetchUSD(ctx context.Context) (decimal.Decimal, error)
}

// CoinGeckoFeed reads the ETH price from the CoinGecko simple-price API.
type CoinGeckoFeed struct {
	client *http.Client
	url    string
}

// NewCoinGeckoFeed creates a feed. An empty url selects DefaultFeedURL.
func NewCoinGeckoFeed(url string, timeout time.Duration) *CoinGeckoFeed {
	if url == "" {
		url = DefaultFeedURL
	}
	return &CoinGeckoFeed{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

type simplePriceResponse struct {
	Ethereum *struct {
		USD *decimal.Decimal `json:"usd"`
	} `json:"ethereum"`
}

// FetchUSD performs one GET against the feed.
func (f *CoinGeckoFeed) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate: fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return decimal.Zero, fmt.Errorf("%w: %s", ErrFeedStatus, resp.Status)
	}

	var body simplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrFeedPayload, err)
	}
	if body.Ethereum == nil || body.Ethereum.USD == nil {
		return decimal.Zero, fmt.Errorf("%w: missing ethereum.usd", ErrFeedPayload)
	}
	price := *body.Ethereum.USD
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrFeedPayload, price)
	}
	return price, nil
}

// Resolver produces one EthUsdRate per session start. Concurrent lookups
// share a single feed request.
type Resolver struct {
	feed   Feed
	static decimal.NullDecimal // scaled by 10^8
	group  singleflight.Group
	now    func() time.Time
}

// NewResolver creates a resolver. feed may be nil to disable live lookups;
// staticRate is the already-scaled fallback (invalid when unset).
func NewResolver(feed Feed, staticRate decimal.NullDecimal) *Resolver {
	return &Resolver{
		feed:   feed,
		static: staticRate,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ParseStatic parses the ETH_USD_RATE override. An empty string yields an
// invalid NullDecimal; a zero or malformed value is an error.
func ParseStatic(raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	scaled, err := units.ParseScaled(raw, units.RateDecimals)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("ETH_USD_RATE: %w", err)
	}
	if !scaled.IsPositive() {
		return decimal.NullDecimal{}, errors.New("ETH_USD_RATE must be greater than zero")
	}
	return decimal.NullDecimal{Decimal: scaled, Valid: true}, nil
}

// Resolve returns the live rate when the feed answers with a usable price,
// otherwise the static override, otherwise ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (model.EthUsdRate, error) {
	if r.feed != nil {
		// The fetch is shared by every waiting caller, so it must not end
		// when the first one goes away. The feed client has its own timeout.
		fetchCtx := context.WithoutCancel(ctx)
		v, err, _ := r.group.Do("eth-usd", func() (interface{}, error) {
			return r.feed.FetchUSD(fetchCtx)
		})
		if err == nil {
			scaled := units.ScaleDecimal(v.(decimal.Decimal), units.RateDecimals)
			if scaled.IsPositive() {
				metrics.RateResolutions.WithLabelValues("feed").Inc()
				return model.EthUsdRate{
					Value:     scaled,
					FetchedAt: r.now(),
					Source:    SourceFeed,
				}, nil
			}
			err = fmt.Errorf("%w: price rounds to zero", ErrFeedPayload)
		}
		slog.Warn("eth/usd price feed unavailable", "err", err)
	}

	if r.static.Valid {
		metrics.RateResolutions.WithLabelValues("static").Inc()
		return model.EthUsdRate{
			Value:     r.static.Decimal,
			FetchedAt: r.now(),
			Source:    SourceStatic,
		}, nil
	}

	metrics.RateResolutions.WithLabelValues("unavailable").Inc()
	return model.EthUsdRate{}, ErrUnavailable
}
