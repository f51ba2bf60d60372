// Package chdrerr defines the error taxonomy shared by every layer of the
// CHDR transport stack: packet codec, links, control endpoint, management
// portal, and flow-controlled data transport all report failures through
// the same small set of kinds so callers can switch on taxonomy rather than
// package-specific sentinel values.
package chdrerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error by the taxonomy a caller needs to react to, not
// by which package raised it.
type Kind int

const (
	// Transport covers link send/recv failure, socket error, DMA stall.
	Transport Kind = iota
	// Timeout covers a control response absent within deadline or a
	// flow-control window blocked beyond deadline.
	Timeout
	// Protocol covers a malformed CHDR header, bad packet type, or
	// management version mismatch.
	Protocol
	// Sequence covers an out-of-order data packet or unexpected ack seq.
	Sequence
	// Flow covers CMDERR/DATAERR/SEQERR/RTERR reported by a device as
	// asynchronous events.
	Flow
	// Resource covers a pool empty past deadline, no free EPID, or no
	// free DMA queue.
	Resource
	// Topology covers an unreachable SEP, no route, or duplicate address.
	Topology
	// Config covers a caller-supplied parameter out of range.
	Config
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "TRANSPORT"
	case Timeout:
		return "TIMEOUT"
	case Protocol:
		return "PROTOCOL"
	case Sequence:
		return "SEQUENCE"
	case Flow:
		return "FLOW"
	case Resource:
		return "RESOURCE"
	case Topology:
		return "TOPOLOGY"
	case Config:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// Error is a typed error carrying a taxonomy Kind plus a short machine
// readable Code (e.g. "CHDR_BAD_LENGTH") used in logs and tests.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error from a message string.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Err: errors.New(msg)}
}

// Wrap builds an Error around an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Code-level sentinels referenced by name across packages and tests.
const (
	CodeBadLength         = "CHDR_BAD_LENGTH"
	CodeBadPktType        = "CHDR_BAD_PKTTYPE"
	CodePayloadTruncated  = "CHDR_PAYLOAD_TRUNCATED"
	CodeCtrlTimeout       = "CTRL_TIMEOUT"
	CodeCtrlSeqErr        = "CTRL_SEQERR"
	CodeMgmtUnreachable   = "MGMT_UNREACHABLE"
	CodeMgmtRouteUnavail  = "MGMT_ROUTE_UNAVAILABLE"
	CodeMgmtVersionMismat = "MGMT_VERSION_MISMATCH"
	CodeLinkTxFailed      = "LINK_TX_FAILED"
	CodePoolEmpty         = "POOL_EMPTY"
	CodeTxBackpressure    = "TX_BACKPRESSURE"
	CodeDisconnected      = "CLIENT_DISCONNECTED"
)
