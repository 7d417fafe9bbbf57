package main

import (
	"context"
	"time"

	"github.com/DomeLiquid/lending/core"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func initCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create tables and seed assets, pools and exposure groups from the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.seed(ctx); err != nil {
				return a.fail(cmd, err)
			}
			return nil
		},
	}
}

func (a *app) seed(ctx context.Context) error {
	if err := a.store.Migrate(); err != nil {
		return errors.Wrap(err, "migrate")
	}
	assets, err := a.cfg.BuildAssets(a.clk)
	if err != nil {
		return err
	}
	registry, err := core.NewAssetRegistry(assets...)
	if err != nil {
		return err
	}
	pools, err := a.cfg.BuildPools(a.clk, registry)
	if err != nil {
		return err
	}
	groups, err := a.cfg.BuildExposureGroups()
	if err != nil {
		return err
	}
	if err := a.store.SeedAssets(ctx, assets); err != nil {
		return err
	}
	if err := a.store.SeedPools(ctx, pools); err != nil {
		return err
	}
	if err := a.store.SeedExposureGroups(ctx, groups); err != nil {
		return err
	}
	a.log.Info().Msgf("seeded %d assets, %d pools, %d exposure groups into %s", len(assets), len(pools), len(groups), a.cfg.Database.DSN)
	return nil
}

func configureCommand(a *app) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Apply the rate curves from the config to the existing pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return a.fail(cmd, err)
			}
			if err := a.configure(ctx, e, actor); err != nil {
				return a.fail(cmd, err)
			}
			return a.printPools(cmd, e)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "admin", "actor recorded on the audit trail")
	return cmd
}

func (a *app) configure(ctx context.Context, e *core.Engine, actor string) error {
	pools, err := a.cfg.BuildPools(a.clk, e.Assets())
	if err != nil {
		return err
	}
	for _, p := range pools {
		if err := e.ConfigurePool(ctx, actor, p.Symbol, &p.InterestRateConfig); err != nil {
			return err
		}
	}
	return nil
}

type poolView struct {
	Symbol         string          `json:"symbol"`
	Utilization    decimal.Decimal `json:"utilization"`
	BorrowApr      decimal.Decimal `json:"borrowApr"`
	BorrowApy      decimal.Decimal `json:"borrowApy"`
	DepositApr     decimal.Decimal `json:"depositApr"`
	DepositApy     decimal.Decimal `json:"depositApy"`
	TotalDeposited decimal.Decimal `json:"totalDeposited"`
	TotalBorrowed  decimal.Decimal `json:"totalBorrowed"`
	Reserves       decimal.Decimal `json:"reserves"`
	BorrowIndex    decimal.Decimal `json:"borrowIndex"`
	DepositIndex   decimal.Decimal `json:"depositIndex"`
	LastUpdate     int64           `json:"lastUpdate"`
}

func newPoolView(p *core.Pool) (poolView, error) {
	utilization := p.ComputeUtilizationRate()
	depositApr, borrowApr, err := p.CalcInterestRate(utilization)
	if err != nil {
		return poolView{}, errors.Wrapf(err, "pool %s", p.Symbol)
	}
	return poolView{
		Symbol:         p.Symbol,
		Utilization:    utilization.Round(4),
		BorrowApr:      borrowApr.Round(6),
		BorrowApy:      core.AprToApy(borrowApr).Round(6),
		DepositApr:     depositApr.Round(6),
		DepositApy:     core.AprToApy(depositApr).Round(6),
		TotalDeposited: p.TotalDeposited,
		TotalBorrowed:  p.TotalBorrowed,
		Reserves:       p.Reserves,
		BorrowIndex:    p.BorrowIndex,
		DepositIndex:   p.DepositIndex,
		LastUpdate:     p.LastUpdate,
	}, nil
}

func accrueCommand(a *app) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Accrue interest on every pool and persist the new indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return a.fail(cmd, err)
			}
			if err := a.accrue(cmd, e); err != nil {
				return a.fail(cmd, err)
			}
			if every <= 0 {
				return nil
			}

			ticker := a.clk.Ticker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := a.accrue(cmd, e); err != nil {
						a.log.Warn().Msgf("accrue: %v", err)
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "keep running and accrue on this interval")
	return cmd
}

func (a *app) accrue(cmd *cobra.Command, e *core.Engine) error {
	if err := e.AccrueAll(cmd.Context()); err != nil {
		return err
	}
	return a.printPools(cmd, e)
}

func (a *app) printPools(cmd *cobra.Command, e *core.Engine) error {
	pools := e.ListPools()
	views := make([]poolView, 0, len(pools))
	for _, p := range pools {
		view, err := newPoolView(p)
		if err != nil {
			return err
		}
		views = append(views, view)
	}
	return printJSON(cmd.OutOrStdout(), views)
}

type healthView struct {
	PositionId             string                     `json:"positionId"`
	Owner                  string                     `json:"owner"`
	Index                  uint8                      `json:"index"`
	State                  string                     `json:"state"`
	TotalValue             decimal.Decimal            `json:"totalValue"`
	ThresholdWeightedValue decimal.Decimal            `json:"thresholdWeightedValue"`
	TotalDebt              decimal.Decimal            `json:"totalDebt"`
	LTV                    int64                      `json:"ltvBps"`
	WeightedLTV            int64                      `json:"weightedLtvBps"`
	MaxLTV                 int64                      `json:"maxLtvBps"`
	HealthRatio            decimal.Decimal            `json:"healthRatio"`
	LtvSaturated           bool                       `json:"ltvSaturated"`
	Balances               map[string]decimal.Decimal `json:"balances"`
	Debts                  map[string]decimal.Decimal `json:"debts"`
}

func healthCommand(a *app) *cobra.Command {
	var index uint8
	cmd := &cobra.Command{
		Use:   "health <owner>",
		Short: "Print the valuation of a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return a.fail(cmd, err)
			}
			positionId := core.PositionId(args[0], index)
			position, err := e.GetPosition(positionId)
			if err != nil {
				return a.fail(cmd, err)
			}
			valuation, err := e.Valuate(ctx, positionId)
			if err != nil {
				return a.fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), healthView{
				PositionId:             positionId.String(),
				Owner:                  position.Owner,
				Index:                  position.Index,
				State:                  valuation.State().String(),
				TotalValue:             valuation.TotalValue,
				ThresholdWeightedValue: valuation.ThresholdWeightedValue,
				TotalDebt:              valuation.TotalDebt,
				LTV:                    valuation.LTV,
				WeightedLTV:            valuation.WeightedLTV,
				MaxLTV:                 valuation.MaxLtvBps,
				HealthRatio:            valuation.HealthRatio.Round(6),
				LtvSaturated:           valuation.IsSentinelLTV(),
				Balances:               position.Balances,
				Debts:                  valuation.DebtAmounts,
			})
		},
	}
	cmd.Flags().Uint8Var(&index, "index", 0, "position slot of the owner")
	return cmd
}

func planCommand(a *app) *cobra.Command {
	var (
		index     uint8
		targetBps int64
		bonusBps  int64
	)
	cmd := &cobra.Command{
		Use:   "plan <owner>",
		Short: "Print the repay amounts that bring a position to a target weighted LTV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return a.fail(cmd, err)
			}
			plan, err := e.PlanLiquidation(ctx, core.PositionId(args[0], index), targetBps, bonusBps)
			if err != nil {
				return a.fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	flags := cmd.Flags()
	flags.Uint8Var(&index, "index", 0, "position slot of the owner")
	flags.Int64Var(&targetBps, "target", 4000, "target weighted LTV in basis points")
	flags.Int64Var(&bonusBps, "bonus", 500, "liquidation bonus in basis points")
	return cmd
}

func historyCommand(a *app) *cobra.Command {
	var (
		op     string
		before int64
		limit  int64
	)
	cmd := &cobra.Command{
		Use:   "history <actor>",
		Short: "List the audit records of an actor, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := core.ParseOperateType(op)
			if err != nil {
				return a.fail(cmd, err)
			}
			operates, err := a.store.ListOperates(cmd.Context(), args[0], typ, before, limit)
			if err != nil {
				return a.fail(cmd, err)
			}
			return printJSON(cmd.OutOrStdout(), operates)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&op, "op", "", "only this operation type, e.g. borrow or liquidate")
	flags.Int64Var(&before, "before", 0, "only records created before this unix time")
	flags.Int64Var(&limit, "limit", 20, "maximum number of records")
	return cmd
}
