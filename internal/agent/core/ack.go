package core

import "time"

// AckStatus is the terminal outcome of a command.
type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckFailed  AckStatus = "failed"
)

// Ack reports the outcome of one command back to the control plane.
type Ack struct {
	CommandID    string         `json:"-"`
	Status       AckStatus      `json:"status"`
	ErrorCode    ErrorCode      `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`
}

// SuccessAck builds a success acknowledgment.
func SuccessAck(id string, result map[string]any, at time.Time) Ack {
	return Ack{CommandID: id, Status: AckSuccess, Result: result, ExecutedAt: at}
}

// FailedAck builds a failed acknowledgment.
func FailedAck(id string, code ErrorCode, msg string, at time.Time) Ack {
	return Ack{CommandID: id, Status: AckFailed, ErrorCode: code, ErrorMessage: msg, ExecutedAt: at}
}
