// Package rpc defines the WebSocket wire frames and the stable error-code
// taxonomy shared by the server and the client.
package rpc

import (
	"errors"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// Wire error codes. Values are stable; clients key display behavior off
// the hundreds range.
const (
	// 1000-1099: auth
	CodeAuthRequired  = 1000
	CodeAuthInvalid   = 1001
	CodeAuthExpired   = 1002
	CodeAuthForbidden = 1003

	// 1100-1199: manifest
	CodeManifestInvalid      = 1100
	CodeDuplicateNode        = 1101
	CodeInterfaceOutOfBounds = 1102
	CodeMgmtMisuse           = 1103

	// 1200-1299: persistence
	CodeUniqueConflict     = 1200
	CodeNotFound           = 1201
	CodeImmutableField     = 1202
	CodeReferenceViolation = 1203

	// 1300-1399: resource
	CodeImageNotFound        = 1300
	CodeAddressPoolExhausted = 1301
	CodeNameCollision        = 1302

	// 1400-1499: hypervisor
	CodeLibvirtUnreachable = 1400
	CodeDomainDefineFailed = 1401
	CodeVolumeUploadFailed = 1402

	// 1500-1599: container
	CodeDockerUnreachable   = 1500
	CodePullFailed          = 1501
	CodeNetworkCreateFailed = 1502

	// 1600-1699: host networking
	CodeInterfaceCreateFailed = 1600
	CodeInterfaceBusy         = 1601

	// 1700+: partial results, always accompanied by a ledger
	CodeUpPartial      = 1700
	CodeDestroyPartial = 1701

	// CodeInternal covers anything the taxonomy has no slot for.
	CodeInternal = 1999
)

// Error is the wire-level error payload.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a wire error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithContext attaches supplementary context.
func (e *Error) WithContext(ctx string) *Error {
	e.Context = ctx
	return e
}

// FromError maps a domain error onto its wire code. Already-wire errors
// pass through untouched.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var wire *Error
	if errors.As(err, &wire) {
		return wire
	}

	code := CodeInternal
	switch {
	case errors.Is(err, util.ErrPermissionDenied):
		code = CodeAuthForbidden
	case errors.Is(err, util.ErrValidationFailed):
		code = CodeManifestInvalid
	case errors.Is(err, util.ErrAlreadyExists):
		code = CodeUniqueConflict
	case errors.Is(err, util.ErrImmutable):
		code = CodeImmutableField
	case errors.Is(err, util.ErrInUse):
		code = CodeReferenceViolation
	case errors.Is(err, util.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, util.ErrExhausted):
		code = CodeAddressPoolExhausted
	}
	return &Error{Code: code, Message: err.Error()}
}
