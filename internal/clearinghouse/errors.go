package clearinghouse

import (
	"errors"
	"net/http"

	"github.com/atmx/clearing-house/internal/fixed"
	"github.com/atmx/clearing-house/internal/ledger"
	"github.com/atmx/clearing-house/internal/margin"
	"github.com/atmx/clearing-house/internal/oracle"
	"github.com/atmx/clearing-house/internal/pricing"
	"github.com/atmx/clearing-house/internal/registry"
)

var (
	// ErrMarketIDNotFound is returned for operations on a market id that
	// was never allocated.
	ErrMarketIDNotFound = errors.New("clearinghouse: market id not found")

	// ErrMaxPositionsExceeded is returned when opening a position in a new
	// market would exceed the per-account position bound.
	ErrMaxPositionsExceeded = errors.New("clearinghouse: max positions exceeded")

	// ErrFailedToExecuteSwap wraps any error returned by the price source
	// while executing a trade.
	ErrFailedToExecuteSwap = errors.New("clearinghouse: failed to execute swap")

	// ErrUnsupportedCollateral is returned when depositing an asset other
	// than the configured collateral.
	ErrUnsupportedCollateral = errors.New("clearinghouse: unsupported collateral")

	// ErrInvalidAmount is returned for negative trade inputs, non-positive
	// deposits and non-positive prices.
	ErrInvalidAmount = errors.New("clearinghouse: invalid amount")

	ErrInvalidAccount   = errors.New("clearinghouse: account is required")
	ErrInvalidDirection = errors.New("clearinghouse: direction must be long or short")

	// ErrPriceNotSettable is returned when the configured price source does
	// not accept operator prices.
	ErrPriceNotSettable = errors.New("clearinghouse: price source does not accept prices")

	// ErrOperatorPricesDisabled is returned by SetMarketPrice when operator
	// prices are not enabled.
	ErrOperatorPricesDisabled = errors.New("clearinghouse: operator prices are disabled")
)

type classified struct {
	err    error
	status int
	reason string
}

// Order matters: wrapped adapter errors are matched by their cause before
// the wrapper.
var classes = []classified{
	{ErrMarketIDNotFound, http.StatusNotFound, "market_not_found"},

	{ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},
	{ErrInvalidDirection, http.StatusBadRequest, "invalid_direction"},
	{ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{oracle.ErrInvalidAssetID, http.StatusBadRequest, "invalid_asset"},
	{pricing.ErrInvalidConfig, http.StatusBadRequest, "invalid_price_source_config"},
	{registry.ErrNoPriceFeedForAsset, http.StatusBadRequest, "no_price_feed"},
	{registry.ErrZeroLengthFundingPeriodOrFrequency, http.StatusBadRequest, "zero_funding_duration"},
	{registry.ErrFundingPeriodNotMultipleOfFrequency, http.StatusBadRequest, "funding_period_not_multiple"},
	{registry.ErrInvalidMarginRatioRequirement, http.StatusBadRequest, "invalid_margin_ratio"},
	{registry.ErrInitialMarginRatioLessThanMaintenance, http.StatusBadRequest, "initial_le_maintenance"},
	{registry.ErrNegativeMinimumTradeSize, http.StatusBadRequest, "negative_minimum_trade_size"},

	{fixed.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
	{fixed.ErrUnderflow, http.StatusUnprocessableEntity, "underflow"},
	{fixed.ErrDivisionByZero, http.StatusUnprocessableEntity, "division_by_zero"},

	{pricing.ErrOutputLimit, http.StatusConflict, "output_limit"},
	{ErrUnsupportedCollateral, http.StatusConflict, "unsupported_collateral"},
	{ErrMaxPositionsExceeded, http.StatusConflict, "max_positions"},
	{ledger.ErrTradeSizeTooSmall, http.StatusConflict, "trade_size_too_small"},
	{margin.ErrInsufficientCollateral, http.StatusConflict, "insufficient_collateral"},
	{ErrPriceNotSettable, http.StatusConflict, "price_not_settable"},
	{ErrOperatorPricesDisabled, http.StatusForbidden, "operator_prices_disabled"},

	{ErrFailedToExecuteSwap, http.StatusBadGateway, "swap_failed"},
	{registry.ErrFailedToCreateVamm, http.StatusBadGateway, "vamm_create_failed"},
	{pricing.ErrNoPrice, http.StatusBadGateway, "no_price"},
	{pricing.ErrNoTwap, http.StatusBadGateway, "no_twap"},
}

func classify(err error) (status int, reason string) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status, c.reason
		}
	}
	return http.StatusInternalServerError, "internal"
}

// StatusCode returns the HTTP status an error is reported with.
func StatusCode(err error) int {
	status, _ := classify(err)
	return status
}
