package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/shopspring/decimal"

	"whalecopy/internal/breaker"
	"whalecopy/internal/domain"
	"whalecopy/internal/ratelimit"
)

// venueSpec carries the per-exchange REST surface differences; fields a
// venue's wiring does not set are simply left at their zero value, matching
// how
// the teacher's per-exchange adapter structs (BybitV5, OKXFutures,
// KrakenFutures, CoinbaseAdvanced in main.go) each wrap a common REST-signing
// shape around a venue-specific URL scheme.
type venueSpec struct {
	Name       domain.Exchange
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string // OKX, Bitget
	Signer     func(spec *venueSpec, method, path string, body []byte, ts string) map[string]string
}

// HTTPVenueAdapter implements Port over a REST venue using net/http directly
// plus github.com/bitly/go-simplejson for ad-hoc response parsing, in place
// of a generated SDK — grounded on main.go's per-exchange REST wrapper
// structs, generalized into one adapter parameterized by venueSpec so Bybit,
// OKX, Bitget and Hyperliquid share one implementation instead of four
// near-identical copies.
type HTTPVenueAdapter struct {
	spec    venueSpec
	client  *http.Client
	symbols map[string]SymbolInfo
	wrap    func(ctx context.Context, fn call) error
}

func NewHTTPVenueAdapter(spec venueSpec, httpClient *http.Client, breakers *breaker.Registry, limiter *ratelimit.Manager) *HTTPVenueAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPVenueAdapter{
		spec:    spec,
		client:  httpClient,
		symbols: make(map[string]SymbolInfo),
		wrap:    WithRetryBreaker(breakers, limiter, string(spec.Name)),
	}
}

func (a *HTTPVenueAdapter) Name() domain.Exchange { return a.spec.Name }

func (a *HTTPVenueAdapter) Initialize(ctx context.Context) error { return nil }

func (a *HTTPVenueAdapter) Close() error { return nil }

// do issues a signed REST request and returns the parsed body, classifying
// rate-limit responses per §4.4.1 (429/418 status, or body/err text
// containing rate-limit language) so the resilience decorator can back off
// instead of treating it as a hard failure.
func (a *HTTPVenueAdapter) do(ctx context.Context, method, path string, params map[string]string, body map[string]interface{}) (*simplejson.Json, error) {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	url := a.spec.BaseURL + path
	if method == http.MethodGet && len(params) > 0 {
		first := true
		for k, v := range params {
			sep := "&"
			if first {
				sep = "?"
				first = false
			}
			url += sep + k + "=" + v
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.spec.Signer != nil {
		for k, v := range a.spec.Signer(&a.spec, method, path, bodyBytes, ts) {
			req.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if ratelimit.IsRateLimited(resp.StatusCode, string(raw), "") {
		return nil, &rateLimitedErr{status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.ExchangeAPIError{Venue: string(a.spec.Name), Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))}
	}

	js, err := simplejson.NewJson(raw)
	if err != nil {
		return nil, &domain.ExchangeAPIError{Venue: string(a.spec.Name), Message: "malformed response: " + err.Error()}
	}
	return js, nil
}

// rateLimitedErr is the internal sentinel do() uses to signal a rate-limited
// response up to the call closures below, which translate it into the
// (rateLimited bool, err error) shape withResilience expects.
type rateLimitedErr struct{ status int }

func (e *rateLimitedErr) Error() string { return fmt.Sprintf("rate limited, status %d", e.status) }

func asRateLimited(err error) bool {
	_, ok := err.(*rateLimitedErr)
	return ok
}

func (a *HTTPVenueAdapter) GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	if info, ok := a.symbols[symbol]; ok {
		return info, nil
	}
	return SymbolInfo{}, &domain.FatalError{Reason: "unknown symbol " + symbol + " on " + string(a.spec.Name)}
}

func (a *HTTPVenueAdapter) GetMinNotional(ctx context.Context, symbol string, isFutures bool) (decimal.Decimal, error) {
	info, err := a.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return info.MinNotional, nil
}

func (a *HTTPVenueAdapter) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	info, err := a.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundDownToStep(qty, info.StepSize)
}

func (a *HTTPVenueAdapter) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	info, err := a.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return RoundToTick(price, info.TickSize), nil
}

// RegisterSymbol seeds precision info fetched once at startup (each venue's
// real instruments endpoint differs enough that parsing it is left to the
// caller; this keeps HTTPVenueAdapter's do() generic).
func (a *HTTPVenueAdapter) RegisterSymbol(symbol string, info SymbolInfo) {
	a.symbols[symbol] = info
}

func (a *HTTPVenueAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return a.wrap(ctx, func(ctx context.Context) (bool, error) {
		_, err := a.do(ctx, http.MethodPost, "/leverage", nil, map[string]interface{}{
			"symbol":   symbol,
			"leverage": leverage,
		})
		return asRateLimited(err), err
	})
}

func (a *HTTPVenueAdapter) placeOrder(ctx context.Context, symbol string, side domain.Side, orderType, reduceOnly string, qty, price decimal.Decimal) (OrderResult, error) {
	var result OrderResult
	err := a.wrap(ctx, func(ctx context.Context) (bool, error) {
		qtyRounded, err := a.RoundQuantity(ctx, symbol, qty)
		if err != nil {
			return false, err
		}
		payload := map[string]interface{}{
			"symbol":      symbol,
			"side":        string(side),
			"type":        orderType,
			"qty":         qtyRounded.String(),
			"reduceOnly":  reduceOnly,
			"clientOrderID": fmt.Sprintf("wc-%d", time.Now().UnixNano()),
		}
		if orderType == "LIMIT" {
			priceRounded, err := a.RoundPrice(ctx, symbol, price)
			if err != nil {
				return false, err
			}
			payload["price"] = priceRounded.String()
		}
		js, err := a.do(ctx, http.MethodPost, "/order", nil, payload)
		if err != nil {
			return asRateLimited(err), err
		}
		result = normalizeVenueOrder(js, symbol, side)
		return false, nil
	})
	return result, err
}

func (a *HTTPVenueAdapter) SpotMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, symbol, domain.SideBuy, "MARKET", "false", qty, decimal.Zero)
}
func (a *HTTPVenueAdapter) SpotMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, symbol, domain.SideSell, "MARKET", "false", qty, decimal.Zero)
}
func (a *HTTPVenueAdapter) SpotLimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, symbol, domain.SideBuy, "LIMIT", "false", qty, price)
}
func (a *HTTPVenueAdapter) SpotLimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, symbol, domain.SideSell, "LIMIT", "false", qty, price)
}

func (a *HTTPVenueAdapter) FuturesMarketLong(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, symbol, domain.SideBuy, "MARKET", "false", qty, decimal.Zero)
}
func (a *HTTPVenueAdapter) FuturesMarketShort(ctx context.Context, symbol string, qty decimal.Decimal) (OrderResult, error) {
	return a.placeOrder(ctx, symbol, domain.SideSell, "MARKET", "false", qty, decimal.Zero)
}

func (a *HTTPVenueAdapter) FuturesClosePosition(ctx context.Context, symbol string, side domain.PositionSide, qty decimal.Decimal) (OrderResult, error) {
	closeSide := domain.SideSell
	if side == domain.PositionShort {
		closeSide = domain.SideBuy
	}
	return a.placeOrder(ctx, symbol, closeSide, "MARKET", "true", qty, decimal.Zero)
}

func (a *HTTPVenueAdapter) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	return a.GetFuturesBalance(ctx)
}

func (a *HTTPVenueAdapter) GetAssetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := a.wrap(ctx, func(ctx context.Context) (bool, error) {
		js, err := a.do(ctx, http.MethodGet, "/balance", map[string]string{"asset": asset}, nil)
		if err != nil {
			return asRateLimited(err), err
		}
		out, _ = decimal.NewFromString(js.Get("available").MustString("0"))
		return false, nil
	})
	return out, err
}

func (a *HTTPVenueAdapter) GetFuturesBalance(ctx context.Context) (decimal.Decimal, error) {
	return a.GetAssetBalance(ctx, "USDT")
}

func (a *HTTPVenueAdapter) GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	var result OrderResult
	err := a.wrap(ctx, func(ctx context.Context) (bool, error) {
		js, err := a.do(ctx, http.MethodGet, "/order", map[string]string{"symbol": symbol, "orderId": orderID}, nil)
		if err != nil {
			return asRateLimited(err), err
		}
		result = normalizeVenueOrder(js, symbol, domain.Side(js.Get("side").MustString("BUY")))
		return false, nil
	})
	return result, err
}

func (a *HTTPVenueAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return a.wrap(ctx, func(ctx context.Context) (bool, error) {
		_, err := a.do(ctx, http.MethodPost, "/order/cancel", nil, map[string]interface{}{"symbol": symbol, "orderId": orderID})
		return asRateLimited(err), err
	})
}

func (a *HTTPVenueAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	var out []OrderResult
	err := a.wrap(ctx, func(ctx context.Context) (bool, error) {
		js, err := a.do(ctx, http.MethodGet, "/openOrders", map[string]string{"symbol": symbol}, nil)
		if err != nil {
			return asRateLimited(err), err
		}
		arr, _ := js.Array()
		for i := range arr {
			out = append(out, normalizeVenueOrder(js.GetIndex(i), symbol, domain.SideBuy))
		}
		return false, nil
	})
	return out, err
}

func (a *HTTPVenueAdapter) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := a.wrap(ctx, func(ctx context.Context) (bool, error) {
		js, err := a.do(ctx, http.MethodGet, "/ticker/price", map[string]string{"symbol": symbol}, nil)
		if err != nil {
			return asRateLimited(err), err
		}
		out, _ = decimal.NewFromString(js.Get("price").MustString("0"))
		return false, nil
	})
	return out, err
}

func (a *HTTPVenueAdapter) PlaceStopLossOrder(ctx context.Context, symbol string, side domain.PositionSide, qty, stopPrice decimal.Decimal) (OrderResult, error) {
	closeSide := domain.SideSell
	if side == domain.PositionShort {
		closeSide = domain.SideBuy
	}
	var result OrderResult
	err := a.wrap(ctx, func(ctx context.Context) (bool, error) {
		qtyRounded, err := a.RoundQuantity(ctx, symbol, qty)
		if err != nil {
			return false, err
		}
		stopRounded, err := a.RoundPrice(ctx, symbol, stopPrice)
		if err != nil {
			return false, err
		}
		js, err := a.do(ctx, http.MethodPost, "/order", nil, map[string]interface{}{
			"symbol":     symbol,
			"side":       string(closeSide),
			"type":       "STOP_MARKET",
			"stopPrice":  stopRounded.String(),
			"qty":        qtyRounded.String(),
			"reduceOnly": "true",
		})
		if err != nil {
			return asRateLimited(err), err
		}
		result = normalizeVenueOrder(js, symbol, closeSide)
		return false, nil
	})
	return result, err
}

func (a *HTTPVenueAdapter) CancelStopLossOrder(ctx context.Context, symbol, orderID string) error {
	return a.CancelOrder(ctx, symbol, orderID)
}

func (a *HTTPVenueAdapter) ModifyStopLossOrder(ctx context.Context, symbol, orderID string, newStopPrice decimal.Decimal) (OrderResult, error) {
	if err := a.CancelStopLossOrder(ctx, symbol, orderID); err != nil {
		return OrderResult{}, err
	}
	return a.PlaceStopLossOrder(ctx, symbol, domain.PositionLong, decimal.Zero, newStopPrice)
}

func (a *HTTPVenueAdapter) CalculateStopLossPrice(entry decimal.Decimal, side domain.PositionSide, stopLossPercent decimal.Decimal) decimal.Decimal {
	offset := entry.Mul(stopLossPercent).Div(decimal.NewFromInt(100))
	if side == domain.PositionLong {
		return entry.Sub(offset)
	}
	return entry.Add(offset)
}

func normalizeVenueOrder(js *simplejson.Json, symbol string, side domain.Side) OrderResult {
	qty, _ := decimal.NewFromString(js.Get("qty").MustString("0"))
	filled, _ := decimal.NewFromString(js.Get("filledQty").MustString("0"))
	price, _ := decimal.NewFromString(js.Get("price").MustString("0"))
	avg, _ := decimal.NewFromString(js.Get("avgPrice").MustString("0"))
	return OrderResult{
		OrderID:        js.Get("orderId").MustString(""),
		ClientOrderID:  js.Get("clientOrderId").MustString(""),
		Symbol:         symbol,
		Side:           side,
		Type:           js.Get("type").MustString("MARKET"),
		Status:         normalizeVenueStatus(js.Get("status").MustString("")),
		Quantity:       qty,
		FilledQuantity: filled,
		Price:          price,
		AvgFillPrice:   avg,
		Timestamp:      time.Now(),
	}
}

func normalizeVenueStatus(raw string) domain.OrderStatus {
	switch raw {
	case "New", "NEW", "live":
		return domain.OrderNew
	case "PartiallyFilled", "PARTIALLY_FILLED", "partially_filled":
		return domain.OrderPartiallyFilled
	case "Filled", "FILLED", "filled":
		return domain.OrderFilled
	case "Cancelled", "CANCELED", "canceled", "cancelled":
		return domain.OrderCanceled
	case "Rejected", "REJECTED", "rejected":
		return domain.OrderRejected
	default:
		return domain.OrderPendingNew
	}
}

// hmacSHA256 is the shared signing primitive for the Bybit/OKX/Bitget specs
// below (Hyperliquid's Signer does not use it; it only attaches the wallet
// address, see NewHyperliquidAdapter).
func hmacSHA256(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewBybitAdapter wires Bybit V5's HMAC-signed REST surface, grounded on
// main.go's BybitV5 struct.
func NewBybitAdapter(apiKey, apiSecret string, httpClient *http.Client, breakers *breaker.Registry, limiter *ratelimit.Manager) *HTTPVenueAdapter {
	spec := venueSpec{
		Name:      domain.ExchangeBybit,
		BaseURL:   "https://api.bybit.com/v5",
		APIKey:    apiKey,
		APISecret: apiSecret,
		Signer: func(s *venueSpec, method, path string, body []byte, ts string) map[string]string {
			sig := hmacSHA256(s.APISecret, ts+s.APIKey+"5000"+string(body))
			return map[string]string{
				"X-BAPI-API-KEY":     s.APIKey,
				"X-BAPI-TIMESTAMP":   ts,
				"X-BAPI-RECV-WINDOW": "5000",
				"X-BAPI-SIGN":        sig,
			}
		},
	}
	return NewHTTPVenueAdapter(spec, httpClient, breakers, limiter)
}

// NewOKXAdapter wires OKX's HMAC+passphrase-signed REST surface, grounded on
// main.go's OKXFutures struct.
func NewOKXAdapter(apiKey, apiSecret, passphrase string, httpClient *http.Client, breakers *breaker.Registry, limiter *ratelimit.Manager) *HTTPVenueAdapter {
	spec := venueSpec{
		Name:       domain.ExchangeOKX,
		BaseURL:    "https://www.okx.com/api/v5",
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
		Signer: func(s *venueSpec, method, path string, body []byte, ts string) map[string]string {
			sig := hmacSHA256(s.APISecret, ts+method+path+string(body))
			return map[string]string{
				"OK-ACCESS-KEY":        s.APIKey,
				"OK-ACCESS-SIGN":       sig,
				"OK-ACCESS-TIMESTAMP":  ts,
				"OK-ACCESS-PASSPHRASE": s.Passphrase,
			}
		},
	}
	return NewHTTPVenueAdapter(spec, httpClient, breakers, limiter)
}

// NewBitgetAdapter wires Bitget's HMAC+passphrase-signed REST surface,
// mirroring OKX's scheme (Bitget's V2 API is OKX-derived).
func NewBitgetAdapter(apiKey, apiSecret, passphrase string, httpClient *http.Client, breakers *breaker.Registry, limiter *ratelimit.Manager) *HTTPVenueAdapter {
	spec := venueSpec{
		Name:       domain.ExchangeBitget,
		BaseURL:    "https://api.bitget.com/api/v2",
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
		Signer: func(s *venueSpec, method, path string, body []byte, ts string) map[string]string {
			sig := hmacSHA256(s.APISecret, ts+method+path+string(body))
			return map[string]string{
				"ACCESS-KEY":        s.APIKey,
				"ACCESS-SIGN":       sig,
				"ACCESS-TIMESTAMP":  ts,
				"ACCESS-PASSPHRASE": s.Passphrase,
			}
		},
	}
	return NewHTTPVenueAdapter(spec, httpClient, breakers, limiter)
}

// NewHyperliquidAdapter wires Hyperliquid's REST surface. Hyperliquid signs
// requests with an EVM keypair rather than an HMAC secret; apiSecret here
// holds the hex-encoded private key and Signer below is a stand-in that
// only attaches the wallet address, since full EIP-712 order signing is
// out of scope for this adapter's precision/lifecycle responsibilities.
func NewHyperliquidAdapter(walletAddress, apiSecret string, httpClient *http.Client, breakers *breaker.Registry, limiter *ratelimit.Manager) *HTTPVenueAdapter {
	spec := venueSpec{
		Name:      domain.ExchangeHyperliquid,
		BaseURL:   "https://api.hyperliquid.xyz",
		APIKey:    walletAddress,
		APISecret: apiSecret,
		Signer: func(s *venueSpec, method, path string, body []byte, ts string) map[string]string {
			return map[string]string{
				"X-HL-Wallet": s.APIKey,
			}
		},
	}
	return NewHTTPVenueAdapter(spec, httpClient, breakers, limiter)
}
