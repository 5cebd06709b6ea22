package exchange

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"whalecopy/internal/domain"
)

func TestNormalizeBinanceStatusMapsKnownStrings(t *testing.T) {
	assert.Equal(t, domain.OrderFilled, normalizeBinanceStatus("FILLED"))
	assert.Equal(t, domain.OrderPartiallyFilled, normalizeBinanceStatus("PARTIALLY_FILLED"))
	assert.Equal(t, domain.OrderCanceled, normalizeBinanceStatus("CANCELLED"))
	assert.Equal(t, domain.OrderExpired, normalizeBinanceStatus("EXPIRED"))
	assert.Equal(t, domain.OrderPendingNew, normalizeBinanceStatus("SOMETHING_ELSE"))
}

func TestIsRateLimitedErrDetectsBinanceTooManyOrders(t *testing.T) {
	err := errors.New("<APIError> code=-1015, msg=Too many new orders")
	assert.True(t, isRateLimitedErr(err))
}

func TestIsRateLimitedErrFalseForUnrelatedError(t *testing.T) {
	err := errors.New("connection reset by peer")
	assert.False(t, isRateLimitedErr(err))
}

func TestIsRateLimitedErrNilIsFalse(t *testing.T) {
	assert.False(t, isRateLimitedErr(nil))
}

func TestBinanceAdapterCalculateStopLossPrice(t *testing.T) {
	a := &BinanceAdapter{}
	got := a.CalculateStopLossPrice(dec("200"), domain.PositionLong, dec("10"))
	assert.True(t, got.Equal(dec("180")))
}

func TestBinanceAdapterGetSymbolInfoErrorsWhenUnregistered(t *testing.T) {
	a := &BinanceAdapter{symbols: map[string]SymbolInfo{}}
	_, err := a.GetSymbolInfo(contextBG(), "BTCUSDT")
	assert.Error(t, err)
	assert.IsType(t, &domain.FatalError{}, err)
}
