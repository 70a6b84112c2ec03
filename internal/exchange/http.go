package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/afritokeni/afritokeni/internal/currency"
)

// HTTPProvider fetches the BTC price from CoinGecko and fiat rates from
// ExchangeRate-API concurrently.
type HTTPProvider struct {
	btcURL   string
	fiatURL  string
	client   *http.Client
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// NewHTTPProvider builds a live rate provider.
func NewHTTPProvider(btcURL, fiatURL string, client *http.Client, logger *slog.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{btcURL: btcURL, fiatURL: fiatURL, client: client, logger: logger, attempts: 3, delay: 300 * time.Millisecond}
}

type coinGeckoResponse struct {
	Bitcoin struct {
		USD float64 `json:"usd"`
	} `json:"bitcoin"`
}

// The v4 endpoint returns "rates" and v6 returns "conversion_rates".
type fiatResponse struct {
	Rates           map[string]float64 `json:"rates"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

// Rates fetches a fresh snapshot.
func (p *HTTPProvider) Rates(ctx context.Context) (Snapshot, error) {
	var (
		btc  coinGeckoResponse
		fiat fiatResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.fetch(gctx, p.btcURL, &btc) })
	g.Go(func() error { return p.fetch(gctx, p.fiatURL, &fiat) })
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	if btc.Bitcoin.USD <= 0 {
		return Snapshot{}, fmt.Errorf("invalid bitcoin price %v", btc.Bitcoin.USD)
	}
	perUSD := fiat.ConversionRates
	if len(perUSD) == 0 {
		perUSD = fiat.Rates
	}
	snap := Snapshot{
		BTCUSD:    btc.Bitcoin.USD,
		USDCUSD:   1,
		FiatUSD:   make(map[string]float64, len(currency.Fiat)),
		FetchedAt: time.Now().UTC(),
	}
	for _, code := range currency.Fiat {
		rate, ok := perUSD[code]
		if !ok || rate <= 0 {
			return Snapshot{}, fmt.Errorf("missing fiat rate for %s", code)
		}
		snap.FiatUSD[code] = 1 / rate
	}
	return snap, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, url string, out any) error {
	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rate source %s: status %d", url, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode %s: %w", url, err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("rate fetch retry", "url", url, "attempt", n+1, "error", err)
		}),
	)
}
