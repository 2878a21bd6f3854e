package solana

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JSON-RPC server error codes returned by Solana nodes.
const (
	CodePreflightFailure      = -32002
	CodeSignatureVerification = -32003
	CodeBlockNotAvailable     = -32004
	CodeNodeUnhealthy         = -32005
	CodeInvalidParams         = -32602
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// BlockhashNotFound reports whether the node rejected the transaction because
// its blockhash is unknown or expired.
func (e *RPCError) BlockhashNotFound() bool {
	if strings.Contains(e.Message, "Blockhash not found") {
		return true
	}
	var data struct {
		Err interface{} `json:"err"`
	}
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil {
		if s, ok := data.Err.(string); ok && s == "BlockhashNotFound" {
			return true
		}
	}
	return false
}

// Logs returns the simulation logs attached to a preflight failure.
func (e *RPCError) Logs() []string {
	var data struct {
		Logs []string `json:"logs"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &data) != nil {
		return nil
	}
	return data.Logs
}

// Transient reports whether the same request may succeed when repeated.
func (e *RPCError) Transient() bool {
	return e.Code == CodeNodeUnhealthy || e.Code == CodeBlockNotAvailable
}

// TransportError wraps failures to reach the node or read its reply.
// The request may or may not have been processed.
type TransportError struct {
	Op         string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transport failure or a transient node error.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var re *RPCError
	if errors.As(err, &re) {
		return re.Transient()
	}
	return false
}
