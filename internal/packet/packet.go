package packet

import (
	"crypto/sha256"
	"math/big"
	"time"
)

// Prepare is a conditional transfer request flowing toward its destination
// address. It is transient: never persisted, consumed by exactly one switch
// invocation.
type Prepare struct {
	Destination        string
	Amount             *big.Int
	ExecutionCondition [32]byte
	ExpiresAt          time.Time
	Data               []byte
}

// Fulfill proves the condition of a Prepare was met downstream.
type Fulfill struct {
	Fulfillment [32]byte
	Data        []byte
}

// Reject is the terminal negative outcome for a Prepare.
type Reject struct {
	Code        Code
	Message     string
	TriggeredBy string
	Data        []byte
}

// Response is the outcome of switching one Prepare: exactly one of Fulfill
// or Reject is set.
type Response struct {
	Fulfill *Fulfill
	Reject  *Reject
}

// FulfillResponse wraps a Fulfill as a Response.
func FulfillResponse(f Fulfill) Response {
	return Response{Fulfill: &f}
}

// RejectResponse wraps a Reject as a Response.
func RejectResponse(r Reject) Response {
	return Response{Reject: &r}
}

// Rejected reports whether the response is a reject.
func (r Response) Rejected() bool {
	return r.Reject != nil
}

// Validates reports whether the fulfillment hashes to the prepare's
// execution condition.
func (f Fulfill) Validates(condition [32]byte) bool {
	return sha256.Sum256(f.Fulfillment[:]) == condition
}

// Expired reports whether the prepare's expiry has passed at the given
// instant.
func (p Prepare) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
