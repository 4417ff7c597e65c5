package packet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// The connector speaks a JSON rendering of the packet types on its own
// HTTP surfaces. The network wire encoding proper lives with the transport
// layer, not here.

type prepareJSON struct {
	Destination        string `json:"destination"`
	Amount             string `json:"amount"`
	ExecutionCondition string `json:"execution_condition"`
	ExpiresAt          string `json:"expires_at"`
	Data               string `json:"data,omitempty"`
}

type responseJSON struct {
	Fulfillment string `json:"fulfillment,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
	Data        string `json:"data,omitempty"`
}

// MarshalJSON encodes a Prepare.
func (p Prepare) MarshalJSON() ([]byte, error) {
	return json.Marshal(prepareJSON{
		Destination:        p.Destination,
		Amount:             p.Amount.String(),
		ExecutionCondition: base64.StdEncoding.EncodeToString(p.ExecutionCondition[:]),
		ExpiresAt:          p.ExpiresAt.UTC().Format(time.RFC3339Nano),
		Data:               base64.StdEncoding.EncodeToString(p.Data),
	})
}

// UnmarshalJSON decodes a Prepare, validating every field.
func (p *Prepare) UnmarshalJSON(data []byte) error {
	var raw prepareJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	amount, ok := new(big.Int).SetString(raw.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount %q", raw.Amount)
	}
	condition, err := base64.StdEncoding.DecodeString(raw.ExecutionCondition)
	if err != nil || len(condition) != 32 {
		return fmt.Errorf("execution condition must be 32 base64 bytes")
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, raw.ExpiresAt)
	if err != nil {
		return fmt.Errorf("invalid expires_at: %w", err)
	}
	var payload []byte
	if raw.Data != "" {
		if payload, err = base64.StdEncoding.DecodeString(raw.Data); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
	}

	p.Destination = raw.Destination
	p.Amount = amount
	copy(p.ExecutionCondition[:], condition)
	p.ExpiresAt = expiresAt
	p.Data = payload
	return nil
}

// MarshalJSON encodes a Response as either a fulfill or a reject body.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Fulfill != nil {
		return json.Marshal(responseJSON{
			Fulfillment: base64.StdEncoding.EncodeToString(r.Fulfill.Fulfillment[:]),
			Data:        base64.StdEncoding.EncodeToString(r.Fulfill.Data),
		})
	}
	if r.Reject != nil {
		return json.Marshal(responseJSON{
			Code:        string(r.Reject.Code),
			Message:     r.Reject.Message,
			TriggeredBy: r.Reject.TriggeredBy,
			Data:        base64.StdEncoding.EncodeToString(r.Reject.Data),
		})
	}
	return nil, fmt.Errorf("response holds neither fulfill nor reject")
}

// UnmarshalJSON decodes a Response.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var payload []byte
	if raw.Data != "" {
		var err error
		if payload, err = base64.StdEncoding.DecodeString(raw.Data); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
	}
	if raw.Fulfillment != "" {
		fulfillment, err := base64.StdEncoding.DecodeString(raw.Fulfillment)
		if err != nil || len(fulfillment) != 32 {
			return fmt.Errorf("fulfillment must be 32 base64 bytes")
		}
		var f Fulfill
		copy(f.Fulfillment[:], fulfillment)
		f.Data = payload
		r.Fulfill = &f
		r.Reject = nil
		return nil
	}
	if raw.Code == "" {
		return fmt.Errorf("response holds neither fulfillment nor code")
	}
	r.Reject = &Reject{
		Code:        Code(raw.Code),
		Message:     raw.Message,
		TriggeredBy: raw.TriggeredBy,
		Data:        payload,
	}
	r.Fulfill = nil
	return nil
}
