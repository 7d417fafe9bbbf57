package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	OperateStore interface {
		CreateOperate(ctx context.Context, operate *Operate) error
		ListOperates(ctx context.Context, actor string, op OperateType, createdBeforeAt, limit int64) ([]Operate, error)
	}

	// Operate is the audit record of one committed engine operation.
	Operate struct {
		Actor      string        `json:"actor"`
		PositionId uuid.UUID     `json:"positionId"`
		Op         OperateType   `json:"op"`
		Extra      OperateDetail `json:"extra"`
		CreatedAt  int64         `json:"createdAt"`
	}

	OperateDetail struct {
		Type    OperateType    `json:"type"`
		Actor   string         `json:"actor"`
		Actions []ActionDetail `json:"actions"`
	}

	ActionDetail struct {
		Actor      string          `json:"actor"`
		ActionType ActionType      `json:"actionType"`
		Symbol     string          `json:"symbol"`
		Amount     decimal.Decimal `json:"amount"`
	}
)

type OperateType uint8

const (
	OpCreatePosition OperateType = iota + 1
	OpFund
	OpWithdraw
	OpBorrow
	OpRepay
	OpSupply
	OpRedeem
	OpAccrue
	OpLiquidate
	OpHeal
	OpClose
	OpConfigure
)

func (o OperateType) String() string {
	switch o {
	case OpCreatePosition:
		return "create_position"
	case OpFund:
		return "fund"
	case OpWithdraw:
		return "withdraw"
	case OpBorrow:
		return "borrow"
	case OpRepay:
		return "repay"
	case OpSupply:
		return "supply"
	case OpRedeem:
		return "redeem"
	case OpAccrue:
		return "accrue"
	case OpLiquidate:
		return "liquidate"
	case OpHeal:
		return "heal"
	case OpClose:
		return "close"
	case OpConfigure:
		return "configure"
	default:
		return "unknown"
	}
}

// ParseOperateType maps a name such as "borrow" back to its type. An empty
// name parses to the zero type.
func ParseOperateType(name string) (OperateType, error) {
	if name == "" {
		return 0, nil
	}
	for op := OpCreatePosition; op <= OpConfigure; op++ {
		if op.String() == name {
			return op, nil
		}
	}
	return 0, errors.Errorf("unknown operate type %q", name)
}

// ActionType names a single balance movement inside an operation.
type ActionType string

const (
	ActionDeposit  ActionType = "deposit"
	ActionWithdraw ActionType = "withdraw"
	ActionBorrow   ActionType = "borrow"
	ActionRepay    ActionType = "repay"
	ActionSeize    ActionType = "seize"
	ActionSwapIn   ActionType = "swap_in"
	ActionSwapOut  ActionType = "swap_out"
	ActionRefund   ActionType = "refund"
)

func NewOperate(clk clock.Clock, actor string, positionId uuid.UUID, typ OperateType, actions ...ActionDetail) *Operate {
	return &Operate{
		Actor:      actor,
		PositionId: positionId,
		Op:         typ,
		Extra: OperateDetail{
			Type:    typ,
			Actor:   actor,
			Actions: actions,
		},
		CreatedAt: clk.Now().Unix(),
	}
}

func (o *Operate) AddAction(actor string, typ ActionType, symbol string, amount decimal.Decimal) {
	o.Extra.Actions = append(o.Extra.Actions, ActionDetail{
		Actor:      actor,
		ActionType: typ,
		Symbol:     symbol,
		Amount:     amount,
	})
}

func (j OperateDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *OperateDetail) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	case nil:
		return nil
	default:
		return errors.Errorf("unsupported operate detail type %T", value)
	}
}
