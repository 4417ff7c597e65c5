package settlement

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Quantity is an amount expressed at a particular asset scale, the shape
// exchanged with settlement engines. Amount counts units of 10^-Scale of
// the asset.
type Quantity struct {
	Amount decimal.Decimal
	Scale  uint8
}

// QuantityFromBase expresses an amount of connector base units at the
// connector's own scale.
func QuantityFromBase(amount *big.Int, scale uint8) Quantity {
	return Quantity{Amount: decimal.NewFromBigInt(amount, 0), Scale: scale}
}

// BaseUnits converts the quantity to base units at the target scale,
// flooring any fraction that the coarser scale cannot represent. The
// returned leftover is the floored remainder at the original scale.
func (q Quantity) BaseUnits(scale uint8) (amount *big.Int, leftover decimal.Decimal) {
	shifted := q.Amount.Shift(int32(scale) - int32(q.Scale))
	floored := shifted.Floor()
	leftover = shifted.Sub(floored).Shift(int32(q.Scale) - int32(scale))
	return floored.BigInt(), leftover
}
