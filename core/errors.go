package core

import (
	"github.com/pkg/errors"
)

type ErrorKind uint8

const (
	PricingError ErrorKind = iota + 1
	InsufficiencyError
	ExposureError
	StateError
	MathError
)

func (k ErrorKind) String() string {
	switch k {
	case PricingError:
		return "PricingError"
	case InsufficiencyError:
		return "InsufficiencyError"
	case ExposureError:
		return "ExposureError"
	case StateError:
		return "StateError"
	case MathError:
		return "MathError"
	default:
		return "Unknown"
	}
}

// Error is a classified engine failure. Every Error aborts the whole call.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first classified error in the chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// pricing
var (
	ErrZeroPrice    = newError(PricingError, "zero price")
	ErrMissingPrice = newError(PricingError, "missing price")
)

// insufficiency
var (
	ErrLiquidationInsufficient = newError(InsufficiencyError, "liquidation does not restore solvency")
	ErrBankruptPosition        = newError(InsufficiencyError, "position is bankrupt, liquidation cannot restore solvency")
	ErrSeizeExceedsCollateral  = newError(InsufficiencyError, "seized value exceeds collateral")
	ErrDebtNotRepaidFully      = newError(InsufficiencyError, "debt not repaid fully")
	ErrInsufficientBalance     = newError(InsufficiencyError, "insufficient balance")
	ErrInsufficientLiquidity   = newError(InsufficiencyError, "insufficient pool liquidity")
	ErrPositionInsolvent       = newError(InsufficiencyError, "operation leaves position insolvent")
)

// exposure
var (
	ErrMaxExposureBreached = newError(ExposureError, "max asset exposure breached")
)

// state
var (
	ErrSolventPosition      = newError(StateError, "cannot liquidate a solvent position")
	ErrNotBankrupt          = newError(StateError, "cannot heal a position that is not bankrupt")
	ErrCloseNotOwner        = newError(StateError, "only the owner can close a position")
	ErrUnauthorized         = newError(StateError, "caller is not authorized")
	ErrBonusTooHigh         = newError(StateError, "liquidation bonus exceeds protocol maximum")
	ErrInfeasibleTarget     = newError(StateError, "target ltv infeasible for bonus")
	ErrNothingToRepay       = newError(StateError, "no debt repaid")
	ErrNoDebt               = newError(StateError, "position has no debt")
	ErrInvalidAmount        = newError(StateError, "amount must be positive")
	ErrUnknownAsset         = newError(StateError, "unknown asset")
	ErrUnknownPool          = newError(StateError, "unknown pool")
	ErrUnknownGroup         = newError(StateError, "unknown exposure group")
	ErrPositionNotFound     = newError(StateError, "position not found")
	ErrPositionExists       = newError(StateError, "position already exists")
	ErrPoolExists           = newError(StateError, "pool already exists")
	ErrInvalidConfig        = newError(StateError, "invalid config")
	ErrIllegalUtilization   = newError(StateError, "pool borrowed exceeds deposited")
	ErrOptimalUr            = newError(StateError, "optimal utilization must be in (0, 1)")
	ErrNegativeInterestRate = newError(StateError, "negative interest rate parameter")
	ErrReserveFactor        = newError(StateError, "reserve factor must be in [0, 1]")
	ErrInvalidCoverage      = newError(StateError, "coverage must be in [0, 1]")
	ErrInvalidDecimals      = newError(StateError, "asset decimals out of range")
)

// math
var (
	ErrAccrualOverflow = newError(MathError, "interest accrual overflow")
	ErrAmountOverflow  = newError(MathError, "amount overflow")
)
