package core

import (
	"context"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	LiquidateRequest struct {
		Caller       string                     `json:"caller"`
		PositionId   uuid.UUID                  `json:"positionId"`
		RepayAmounts map[string]decimal.Decimal `json:"repayAmounts"`
		BonusBps     int64                      `json:"bonusBps"`
		// SeizeOrder, when set, seizes collateral asset by asset in this order
		// instead of proportionally.
		SeizeOrder []string `json:"seizeOrder,omitempty"`
	}

	LiquidateResult struct {
		PositionId  uuid.UUID                  `json:"positionId"`
		Liquidator  string                     `json:"liquidator"`
		BonusBps    int64                      `json:"bonusBps"`
		Pre         *Valuation                 `json:"pre"`
		Post        *Valuation                 `json:"post"`
		Repaid      map[string]decimal.Decimal `json:"repaid"`
		RepaidValue decimal.Decimal            `json:"repaidValue"`
		Seized      map[string]decimal.Decimal `json:"seized"`
		SeizedValue decimal.Decimal            `json:"seizedValue"`
	}

	HealRequest struct {
		Caller        string                     `json:"caller"`
		PositionId    uuid.UUID                  `json:"positionId"`
		SupplyAmounts map[string]decimal.Decimal `json:"supplyAmounts"`
	}

	HealResult struct {
		PositionId  uuid.UUID                  `json:"positionId"`
		Healer      string                     `json:"healer"`
		Pre         *Valuation                 `json:"pre"`
		Post        *Valuation                 `json:"post"`
		Repaid      map[string]decimal.Decimal `json:"repaid"`
		RepaidValue decimal.Decimal            `json:"repaidValue"`
		State       PositionState              `json:"state"`
	}

	CloseRequest struct {
		Caller        string                     `json:"caller"`
		PositionId    uuid.UUID                  `json:"positionId"`
		SuppliedExtra map[string]decimal.Decimal `json:"suppliedExtra,omitempty"`
	}

	CloseResult struct {
		PositionId uuid.UUID                  `json:"positionId"`
		Owner      string                     `json:"owner"`
		Pre        *Valuation                 `json:"pre"`
		Repaid     map[string]decimal.Decimal `json:"repaid"`
		Swaps      []*SwapFill                `json:"swaps,omitempty"`
		Refunds    map[string]decimal.Decimal `json:"refunds"`
	}
)

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// repayFromWallet pays down each requested loan from payer's wallet,
// clamping every amount to the debt. It returns the amounts taken and their value.
func (u *unitOfWork) repayFromWallet(position *Position, payer string, amounts map[string]decimal.Decimal, op *Operate) (map[string]decimal.Decimal, decimal.Decimal, error) {
	prices, err := u.loadPrices()
	if err != nil {
		return nil, decimal.Zero, err
	}
	repaid := make(map[string]decimal.Decimal, len(amounts))
	repaidValue := decimal.Zero

	for _, symbol := range sortedKeys(amounts) {
		amount := amounts[symbol]
		if amount.IsNegative() {
			return nil, decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%s repay %s", symbol, amount)
		}
		if amount.IsZero() {
			continue
		}
		asset, err := u.e.assets.Get(symbol)
		if err != nil {
			return nil, decimal.Zero, err
		}
		pool, err := u.pool(symbol)
		if err != nil {
			return nil, decimal.Zero, err
		}
		loan := position.Loan(pool, false)
		if loan.IsEmpty() {
			continue
		}
		price, err := prices.Get(symbol)
		if err != nil {
			return nil, decimal.Zero, err
		}

		amount = asset.Floor(amount)
		if amount.IsZero() {
			continue
		}
		taken, err := pool.RecordRepay(loan, amount)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if taken.IsZero() {
			continue
		}
		if err := u.debitWallet(payer, asset, taken); err != nil {
			return nil, decimal.Zero, err
		}

		value, err := CalcValue(taken, price, nil)
		if err != nil {
			return nil, decimal.Zero, err
		}
		repaid[symbol] = taken
		repaidValue = repaidValue.Add(value)
		op.AddAction(payer, ActionRepay, symbol, taken)
	}

	if repaidValue.IsZero() {
		return nil, decimal.Zero, errors.Wrapf(ErrNothingToRepay, "position %s", position.Id)
	}
	return repaid, repaidValue, nil
}

// seize takes seizeValue worth of collateral from the position and credits
// it to the receiver. Amounts are floored to asset precision so the receiver
// never gets more than seizeValue.
func (u *unitOfWork) seize(position *Position, pre *Valuation, receiver string, seizeValue decimal.Decimal, order []string, op *Operate) (map[string]decimal.Decimal, decimal.Decimal, error) {
	prices, err := u.loadPrices()
	if err != nil {
		return nil, decimal.Zero, err
	}
	seized := make(map[string]decimal.Decimal)
	seizedValue := decimal.Zero

	take := func(asset *Asset, amount decimal.Decimal) error {
		amount = decimal.Min(asset.Floor(amount), position.Balance(asset.Symbol))
		if !amount.IsPositive() {
			return nil
		}
		if err := position.ChangeBalance(asset, amount.Neg()); err != nil {
			return err
		}
		if err := u.creditWallet(receiver, asset, amount); err != nil {
			return err
		}
		if err := u.decreaseExposure(asset, amount); err != nil {
			return err
		}
		price, err := prices.Get(asset.Symbol)
		if err != nil {
			return err
		}
		value, err := CalcValue(amount, price, nil)
		if err != nil {
			return err
		}
		seized[asset.Symbol] = seized[asset.Symbol].Add(amount)
		seizedValue = seizedValue.Add(value)
		op.AddAction(receiver, ActionSeize, asset.Symbol, amount)
		return nil
	}

	if len(order) > 0 {
		remaining := seizeValue
		for _, symbol := range order {
			if !remaining.IsPositive() {
				break
			}
			asset, err := u.e.assets.Get(symbol)
			if err != nil {
				return nil, decimal.Zero, err
			}
			price, err := prices.Get(symbol)
			if err != nil {
				return nil, decimal.Zero, err
			}
			amount, err := CalcAmount(remaining, price)
			if err != nil {
				return nil, decimal.Zero, err
			}
			before := seizedValue
			if err := take(asset, amount); err != nil {
				return nil, decimal.Zero, err
			}
			remaining = remaining.Sub(seizedValue.Sub(before))
		}
		return seized, seizedValue, nil
	}

	// proportional: every asset gives up the same fraction of its balance
	for _, symbol := range sortedKeys(pre.AssetValues) {
		asset, err := u.e.assets.Get(symbol)
		if err != nil {
			return nil, decimal.Zero, err
		}
		amount, _ := position.Balance(symbol).Mul(seizeValue).QuoRem(pre.TotalValue, WAD_DECIMALS)
		if err := take(asset, amount); err != nil {
			return nil, decimal.Zero, err
		}
	}
	return seized, seizedValue, nil
}

// Liquidate repays part of an insolvent position's debt from the caller's
// wallet and pays the caller collateral worth the repaid value plus bonus.
// The position must end strictly below the LTV threshold.
func (e *Engine) Liquidate(ctx context.Context, req LiquidateRequest) (*LiquidateResult, error) {
	if req.BonusBps < 0 || req.BonusBps > e.cfg.MaxLiquidationBonusBps {
		return nil, errors.Wrapf(ErrBonusTooHigh, "bonus %d bps, max %d", req.BonusBps, e.cfg.MaxLiquidationBonusBps)
	}

	var result *LiquidateResult
	err := e.run(ctx, OpLiquidate, func(u *unitOfWork) error {
		position, err := u.position(req.PositionId)
		if err != nil {
			return err
		}
		if !e.cfg.IsLiquidator(req.Caller) && position.Owner != req.Caller {
			return errors.Wrapf(ErrUnauthorized, "%s is not a liquidator", req.Caller)
		}

		pre, err := u.valuate(position)
		if err != nil {
			return err
		}
		switch pre.State() {
		case Solvent:
			return errors.Wrapf(ErrSolventPosition, "position %s weighted ltv %d < %d", position.Id, pre.WeightedLTV, pre.MaxLtvBps)
		case Bankrupt:
			return errors.Wrapf(ErrBankruptPosition, "position %s value %s < debt %s", position.Id, pre.TotalValue, pre.TotalDebt)
		}

		op := NewOperate(e.clk, req.Caller, position.Id, OpLiquidate)
		repaid, repaidValue, err := u.repayFromWallet(position, req.Caller, req.RepayAmounts, op)
		if err != nil {
			return err
		}

		seizeValue := repaidValue.Mul(ONE.Add(decimal.NewFromInt(req.BonusBps).Div(BPS)))
		if seizeValue.GreaterThan(pre.TotalValue) {
			return errors.Wrapf(ErrSeizeExceedsCollateral, "seize %s > collateral %s", seizeValue, pre.TotalValue)
		}
		seized, seizedValue, err := u.seize(position, pre, req.Caller, seizeValue, req.SeizeOrder, op)
		if err != nil {
			return err
		}

		post, err := u.valuate(position)
		if err != nil {
			return err
		}
		if !post.IsSolvent() {
			return errors.Wrapf(ErrLiquidationInsufficient, "position %s weighted ltv %d after liquidation, max %d", position.Id, post.WeightedLTV, post.MaxLtvBps)
		}

		position.Touch(e.clk)
		u.record(op)
		result = &LiquidateResult{
			PositionId:  position.Id,
			Liquidator:  req.Caller,
			BonusBps:    req.BonusBps,
			Pre:         pre,
			Post:        post,
			Repaid:      repaid,
			RepaidValue: repaidValue,
			Seized:      seized,
			SeizedValue: seizedValue,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveLiquidation(result.RepaidValue)
	e.log.Info().Msgf("liquidate position %s by %s repaid %s seized %s ltv %d -> %d",
		result.PositionId, result.Liquidator, result.RepaidValue, result.SeizedValue, result.Pre.LTV, result.Post.LTV)
	return result, nil
}

// Heal absorbs a bankrupt position's loss: the caller repays debt from its
// own wallet with no bonus. Partial healing is allowed.
func (e *Engine) Heal(ctx context.Context, req HealRequest) (*HealResult, error) {
	var result *HealResult
	err := e.run(ctx, OpHeal, func(u *unitOfWork) error {
		position, err := u.position(req.PositionId)
		if err != nil {
			return err
		}
		if position.Owner != req.Caller && !e.cfg.IsRecoveryAccount(req.Caller) {
			return errors.Wrapf(ErrUnauthorized, "%s cannot heal position %s", req.Caller, position.Id)
		}

		pre, err := u.valuate(position)
		if err != nil {
			return err
		}
		if pre.State() != Bankrupt {
			return errors.Wrapf(ErrNotBankrupt, "position %s is %s", position.Id, pre.State())
		}

		op := NewOperate(e.clk, req.Caller, position.Id, OpHeal)
		repaid, repaidValue, err := u.repayFromWallet(position, req.Caller, req.SupplyAmounts, op)
		if err != nil {
			return err
		}

		post, err := u.valuate(position)
		if err != nil {
			return err
		}

		position.Touch(e.clk)
		u.record(op)
		result = &HealResult{
			PositionId:  position.Id,
			Healer:      req.Caller,
			Pre:         pre,
			Post:        post,
			Repaid:      repaid,
			RepaidValue: repaidValue,
			State:       post.State(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Msgf("heal position %s by %s repaid %s, now %s", result.PositionId, result.Healer, result.RepaidValue, result.State)
	return result, nil
}

// Close repays every loan of the position, first from same-asset collateral,
// then by swapping other collateral, and refunds what is left to the owner.
// It fails with ErrDebtNotRepaidFully rather than leave residual debt.
func (e *Engine) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	var result *CloseResult
	err := e.run(ctx, OpClose, func(u *unitOfWork) error {
		position, err := u.position(req.PositionId)
		if err != nil {
			return err
		}
		if position.Owner != req.Caller {
			return errors.Wrapf(ErrCloseNotOwner, "%s does not own position %s", req.Caller, position.Id)
		}

		pre, err := u.valuate(position)
		if err != nil {
			return err
		}
		prices, err := u.loadPrices()
		if err != nil {
			return err
		}
		initial := make(map[string]decimal.Decimal, len(position.Balances))
		for k, v := range position.Balances {
			initial[k] = v
		}

		op := NewOperate(e.clk, req.Caller, position.Id, OpClose)
		for _, symbol := range sortedKeys(req.SuppliedExtra) {
			amount := req.SuppliedExtra[symbol]
			if !amount.IsPositive() {
				continue
			}
			asset, err := e.assets.Get(symbol)
			if err != nil {
				return err
			}
			if err := u.debitWallet(position.Owner, asset, amount); err != nil {
				return err
			}
			if err := position.ChangeBalance(asset, amount); err != nil {
				return err
			}
			op.AddAction(req.Caller, ActionDeposit, symbol, amount)
		}

		result = &CloseResult{
			PositionId: position.Id,
			Owner:      position.Owner,
			Pre:        pre,
			Repaid:     make(map[string]decimal.Decimal),
			Refunds:    make(map[string]decimal.Decimal),
		}

		loanSymbols := make([]string, 0, len(position.Loans))
		for symbol := range position.Loans {
			loanSymbols = append(loanSymbols, symbol)
		}
		sort.Strings(loanSymbols)

		for _, symbol := range loanSymbols {
			asset, err := e.assets.Get(symbol)
			if err != nil {
				return err
			}
			pool, err := u.pool(symbol)
			if err != nil {
				return err
			}
			loan := position.Loan(pool, false)

			if err := u.repayFromBalance(position, pool, asset, loan, result, op); err != nil {
				return err
			}
			if loan.IsEmpty() {
				continue
			}
			// cover the shortfall with other collateral, debt-free assets first
			for _, from := range u.swapCandidates(position, symbol) {
				need := asset.Ceil(pool.DebtOf(loan)).Sub(position.Balance(symbol))
				if !need.IsPositive() {
					break
				}
				fill, err := e.swapper.Swap(u.ctx, from, asset, position.Balance(from.Symbol), need, prices)
				if err != nil {
					return err
				}
				if !fill.Sold.IsPositive() {
					continue
				}
				if err := position.ChangeBalance(from, fill.Sold.Neg()); err != nil {
					return err
				}
				if err := position.ChangeBalance(asset, fill.Bought); err != nil {
					return err
				}
				result.Swaps = append(result.Swaps, fill)
				op.AddAction(req.Caller, ActionSwapOut, fill.From, fill.Sold)
				op.AddAction(req.Caller, ActionSwapIn, fill.To, fill.Bought)

				if err := u.repayFromBalance(position, pool, asset, loan, result, op); err != nil {
					return err
				}
				if loan.IsEmpty() {
					break
				}
			}
		}

		position.Prune()
		if position.HasDebt() {
			return errors.Wrapf(ErrDebtNotRepaidFully, "position %s", position.Id)
		}

		for _, symbol := range sortedKeys(position.Balances) {
			amount := position.Balance(symbol)
			asset, err := e.assets.Get(symbol)
			if err != nil {
				return err
			}
			if err := u.creditWallet(position.Owner, asset, amount); err != nil {
				return err
			}
			result.Refunds[symbol] = amount
			op.AddAction(req.Caller, ActionRefund, symbol, amount)
		}
		for _, symbol := range sortedKeys(initial) {
			asset, err := e.assets.Get(symbol)
			if err != nil {
				return err
			}
			if err := u.decreaseExposure(asset, initial[symbol]); err != nil {
				return err
			}
		}

		position.Zero(e.clk)
		u.record(op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Msgf("close position %s by %s, repaid %d loans, %d swaps", result.PositionId, result.Owner, len(result.Repaid), len(result.Swaps))
	return result, nil
}

// repayFromBalance pays a loan from the position's balance of the same asset.
func (u *unitOfWork) repayFromBalance(position *Position, pool *Pool, asset *Asset, loan *IndexedAmount, result *CloseResult, op *Operate) error {
	balance := position.Balance(asset.Symbol)
	if loan.IsEmpty() || !balance.IsPositive() {
		return nil
	}
	taken, err := pool.RecordRepay(loan, balance)
	if err != nil {
		return err
	}
	if taken.IsZero() {
		return nil
	}
	if err := position.ChangeBalance(asset, taken.Neg()); err != nil {
		return err
	}
	result.Repaid[asset.Symbol] = result.Repaid[asset.Symbol].Add(taken)
	op.AddAction(position.Owner, ActionRepay, asset.Symbol, taken)
	return nil
}

// swapCandidates lists collateral that may be sold to repay target, assets
// without outstanding debt first, then by symbol.
func (u *unitOfWork) swapCandidates(position *Position, target string) []*Asset {
	var free, indebted []*Asset
	for _, symbol := range sortedKeys(position.Balances) {
		if symbol == target || !position.Balance(symbol).IsPositive() {
			continue
		}
		asset, err := u.e.assets.Get(symbol)
		if err != nil {
			continue
		}
		if loan, ok := position.Loans[symbol]; ok && !loan.IsEmpty() {
			indebted = append(indebted, asset)
		} else {
			free = append(free, asset)
		}
	}
	return append(free, indebted...)
}
