package packet

// Code classifies a Reject outcome. Final (F) codes mean retrying the same
// packet will not help, temporary (T) codes mean it might, and relative (R)
// codes depend on the packet's own timing.
type Code string

const (
	// CodeBadRequest marks a malformed or unprocessable prepare.
	CodeBadRequest Code = "F00"
	// CodeUnreachable marks a destination address with no matching route.
	CodeUnreachable Code = "F02"
	// CodeInvalidFulfillment marks a fulfillment that does not hash to the
	// execution condition.
	CodeInvalidFulfillment Code = "F05"
	// CodeAmountTooLarge marks a packet exceeding the destination's
	// per-packet policy limit.
	CodeAmountTooLarge Code = "F08"
	// CodeTransferTimedOut marks a packet whose expiry passed before a
	// definitive outcome arrived.
	CodeTransferTimedOut Code = "R00"
	// CodeInternalError marks an unexpected defect inside the switch.
	CodeInternalError Code = "T00"
	// CodePeerUnreachable marks a transport-level failure on the outbound
	// link, including an open circuit breaker.
	CodePeerUnreachable Code = "T01"
	// CodeRateLimited marks a packet dropped by per-account rate limiting.
	CodeRateLimited Code = "T03"
	// CodeInsufficientLiquidity marks a reservation that would breach the
	// outgoing account's minimum balance.
	CodeInsufficientLiquidity Code = "T04"
)

// Final reports whether the code is in the final (F) class.
func (c Code) Final() bool {
	return len(c) > 0 && c[0] == 'F'
}
