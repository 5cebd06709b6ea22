package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/breaker"
	"whalecopy/internal/domain"
	"whalecopy/internal/ratelimit"
	"whalecopy/internal/sharedstate"
)

func contextBG() context.Context { return context.Background() }

func newTestAdapter(baseURL string) *HTTPVenueAdapter {
	spec := venueSpec{Name: domain.ExchangeBybit, BaseURL: baseURL}
	shared := sharedstate.NewMemory()
	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig(), shared)
	limiter := ratelimit.New(shared)
	return NewHTTPVenueAdapter(spec, http.DefaultClient, breakers, limiter)
}

func TestGetSymbolInfoErrorsForUnregisteredSymbol(t *testing.T) {
	a := newTestAdapter("http://unused")
	_, err := a.GetSymbolInfo(contextBG(), "BTCUSDT")
	assert.Error(t, err)
	assert.IsType(t, &domain.FatalError{}, err)
}

func TestRegisterSymbolThenRoundQuantityUsesStepSize(t *testing.T) {
	a := newTestAdapter("http://unused")
	a.RegisterSymbol("BTCUSDT", SymbolInfo{StepSize: dec("0.001"), TickSize: dec("0.1"), MinNotional: dec("5")})

	got, err := a.RoundQuantity(contextBG(), "BTCUSDT", dec("1.2345"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("1.234")))

	minNotional, err := a.GetMinNotional(contextBG(), "BTCUSDT", false)
	require.NoError(t, err)
	assert.True(t, minNotional.Equal(dec("5")))
}

func TestGetTickerPriceParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"65000.5"}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	price, err := a.GetTickerPrice(contextBG(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("65000.5")))
}

func TestGetTickerPriceSurfacesExchangeAPIErrorOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`oops`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	_, err := a.GetTickerPrice(contextBG(), "BTCUSDT")
	require.Error(t, err)
	assert.IsType(t, &domain.ExchangeAPIError{}, err)
}

func TestPlaceOrderRoundsQuantityAndParsesFill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":"123","qty":"1.234","filledQty":"1.234","avgPrice":"100","status":"FILLED"}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	a.RegisterSymbol("BTCUSDT", SymbolInfo{StepSize: dec("0.001")})

	result, err := a.SpotMarketBuy(contextBG(), "BTCUSDT", dec("1.2345"))
	require.NoError(t, err)
	assert.Equal(t, "123", result.OrderID)
	assert.Equal(t, domain.OrderFilled, result.Status)
	assert.True(t, result.FilledQuantity.Equal(dec("1.234")))
}

func TestNormalizeVenueStatusMapsKnownStrings(t *testing.T) {
	assert.Equal(t, domain.OrderFilled, normalizeVenueStatus("FILLED"))
	assert.Equal(t, domain.OrderPartiallyFilled, normalizeVenueStatus("partially_filled"))
	assert.Equal(t, domain.OrderCanceled, normalizeVenueStatus("cancelled"))
	assert.Equal(t, domain.OrderPendingNew, normalizeVenueStatus("unknown-status"))
}

func TestCalculateStopLossPriceLongIsBelowEntry(t *testing.T) {
	a := newTestAdapter("http://unused")
	got := a.CalculateStopLossPrice(dec("100"), domain.PositionLong, dec("5"))
	assert.True(t, got.Equal(dec("95")))
}

func TestCalculateStopLossPriceShortIsAboveEntry(t *testing.T) {
	a := newTestAdapter("http://unused")
	got := a.CalculateStopLossPrice(dec("100"), domain.PositionShort, dec("5"))
	assert.True(t, got.Equal(dec("105")))
}

func TestBybitSignerProducesExpectedHeaders(t *testing.T) {
	shared := sharedstate.NewMemory()
	a := NewBybitAdapter("key", "secret", http.DefaultClient, breaker.NewRegistry(domain.DefaultCircuitConfig(), shared), ratelimit.New(shared))
	headers := a.spec.Signer(&a.spec, "POST", "/order", []byte("{}"), "1000")
	assert.Equal(t, "key", headers["X-BAPI-API-KEY"])
	assert.NotEmpty(t, headers["X-BAPI-SIGN"])
}
