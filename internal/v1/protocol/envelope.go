package protocol

import "encoding/json"

// Envelope is the single wire shape for every message exchanged with a
// client: an event name, a JSON payload, and an optional ack correlation
// id. A message carrying AckID asks the receiver to reply exactly once
// with a response envelope using the same AckID.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   string          `json:"ackId,omitempty"`
}

// Ack builds the response envelope for an ack-bearing request.
func Ack(ackID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: "ack", Payload: raw, AckID: ackID}, nil
}

// Event builds a fire-and-forget broadcast envelope (no ack correlation).
func Event(name string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: name, Payload: raw}, nil
}

// Success is the bare {success:true} ack marker. Fields is tagged json:"-"
// and is not serialized; SuccessResponse builds an ack body with inlined
// fields.
type Success struct {
	OK     bool `json:"success"`
	Fields any  `json:"-"`
}

// SuccessResponse is the canonical ack-success body. Each entry of fields
// (component-specific data such as a room snapshot) is inlined into the
// JSON object alongside "success".
func SuccessResponse(fields map[string]any) map[string]any {
	out := map[string]any{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// FailureResponse is the canonical ack-failure body per spec §6/§7.
func FailureResponse(err error) map[string]any {
	kind := ErrorKindOf(err)
	return map[string]any{
		"success": false,
		"error":   string(kind),
		"message": err.Error(),
	}
}
