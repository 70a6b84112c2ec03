// Package exchange prices ckBTC and ckUSDC against the supported fiat
// currencies and settles conversions against the platform treasury.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/afritokeni/afritokeni/internal/currency"
)

// ErrUnsupportedAsset is returned when a snapshot has no price for an asset.
var ErrUnsupportedAsset = errors.New("no rate for asset")

// Snapshot is a set of USD prices taken at one point in time. FiatUSD holds
// the USD value of one unit of each fiat currency.
type Snapshot struct {
	BTCUSD    float64            `json:"btc_usd"`
	USDCUSD   float64            `json:"usdc_usd"`
	FiatUSD   map[string]float64 `json:"fiat_usd"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Provider returns current rates.
type Provider interface {
	Rates(ctx context.Context) (Snapshot, error)
}

// USDPer returns the USD value of one major unit of asset.
func (s Snapshot) USDPer(asset currency.Asset) (float64, error) {
	var v float64
	switch asset {
	case currency.CkBTC:
		v = s.BTCUSD
	case currency.CkUSDC:
		v = s.USDCUSD
	default:
		v = s.FiatUSD[string(asset)]
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return v, nil
}

// Convert turns amount smallest units of from into smallest units of to.
func (s Snapshot) Convert(from, to currency.Asset, amount int64) (int64, error) {
	fromUSD, err := s.USDPer(from)
	if err != nil {
		return 0, err
	}
	toUSD, err := s.USDPer(to)
	if err != nil {
		return 0, err
	}
	usd := currency.ToMajor(from, amount) * fromUSD
	return currency.ToMinor(to, usd/toUSD), nil
}

// Price is the value of one major unit of crypto in fiat, in fiat major units.
func (s Snapshot) Price(crypto currency.Asset, fiat string) (float64, error) {
	cryptoUSD, err := s.USDPer(crypto)
	if err != nil {
		return 0, err
	}
	fiatUSD, err := s.USDPer(currency.Asset(fiat))
	if err != nil {
		return 0, err
	}
	return cryptoUSD / fiatUSD, nil
}

// StaticProvider serves fixed rates. It backs development and tests and is
// the fallback when live sources are not configured.
type StaticProvider struct {
	Snapshot Snapshot
}

// DefaultSnapshot holds indicative rates used when no live source is set.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		BTCUSD:  65_000,
		USDCUSD: 1,
		FiatUSD: map[string]float64{
			"KES": 1 / 129.0,
			"UGX": 1 / 3_700.0,
			"TZS": 1 / 2_600.0,
			"RWF": 1 / 1_350.0,
			"NGN": 1 / 1_550.0,
			"GHS": 1 / 15.5,
			"ZAR": 1 / 18.5,
		},
	}
}

// NewStaticProvider returns a provider serving DefaultSnapshot.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{Snapshot: DefaultSnapshot()}
}

// Rates returns the fixed snapshot stamped with the current time.
func (p *StaticProvider) Rates(context.Context) (Snapshot, error) {
	snap := p.Snapshot
	snap.FetchedAt = time.Now().UTC()
	return snap, nil
}
