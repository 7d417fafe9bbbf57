package core

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	SECONDS_PER_YEAR = 31_536_000
	HOURS_PER_YEAR   = 365.25 * 24

	BPS_SCALE = 10_000

	// WAD_DECIMALS is the precision of compounding indices.
	WAD_DECIMALS = 18

	// PRICE_DECIMALS is the oracle fixed point convention.
	PRICE_DECIMALS = 8

	MAX_ASSET_DECIMALS = 18

	DEFAULT_MAX_LTV_BPS               = 5_000
	DEFAULT_MAX_LIQUIDATION_BONUS_BPS = 1_000

	// LTV_SENTINEL is reported when there is debt but nothing to value it against.
	LTV_SENTINEL int64 = math.MaxInt64
)

var (
	ONE = decimal.NewFromInt(1)
	BPS = decimal.NewFromInt(BPS_SCALE)

	EMPTY_BALANCE_THRESHOLD = decimal.New(1, -WAD_DECIMALS)

	// HEALTH_RATIO_SENTINEL stands in for an infinite health ratio at zero debt.
	HEALTH_RATIO_SENTINEL = decimal.NewFromInt(math.MaxInt64)
)
