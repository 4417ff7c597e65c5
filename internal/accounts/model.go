package accounts

import (
	"math/big"
	"time"
)

// Relation describes the role of the counterparty on the other side of an
// account.
type Relation string

const (
	RelationPeer   Relation = "peer"
	RelationParent Relation = "parent"
	RelationChild  Relation = "child"
)

// Account is the switch's view of one counterparty relationship. Identity
// and asset parameters are fixed at provisioning; settlement parameters may
// be updated by an administrator at any time and take effect on the next
// evaluation.
type Account struct {
	ID         string
	AssetCode  string
	AssetScale uint8
	Relation   Relation

	// SettleThreshold triggers outbound settlement when the clearing
	// balance reaches it. Nil disables threshold settlement.
	SettleThreshold *big.Int
	// SettleTo is the clearing balance targeted by an outbound settlement.
	SettleTo *big.Int
	// MinBalance bounds reservations from below. Nil means zero.
	MinBalance *big.Int
	// MaxBalance bounds the clearing balance from above. Nil means
	// unbounded.
	MaxBalance *big.Int
	// MaxPacketAmount caps a single forwarded packet. Nil means unbounded.
	MaxPacketAmount *big.Int

	// SettlementEngineURL locates the engine responsible for this account,
	// when one is configured.
	SettlementEngineURL string
	// LinkURL is the peer's packet ingress endpoint, when this account has
	// an outbound link.
	LinkURL string

	CreatedAt time.Time
}

// SettlementUpdate carries the admin-mutable settlement parameters.
type SettlementUpdate struct {
	SettleThreshold *big.Int
	SettleTo        *big.Int
	MinBalance      *big.Int
	MaxBalance      *big.Int
	MaxPacketAmount *big.Int
}

// EffectiveMinBalance returns the reservation floor, defaulting to zero.
func (a Account) EffectiveMinBalance() *big.Int {
	if a.MinBalance != nil {
		return a.MinBalance
	}
	return big.NewInt(0)
}
