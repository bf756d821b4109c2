// Package auctionerr defines the error taxonomy shared by the bidding engine.
package auctionerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure. Codes are sent to clients verbatim.
type Code string

const (
	CodeAuctionNotLive     Code = "AUCTION_NOT_LIVE"
	CodeBidderNotQualified Code = "BIDDER_NOT_QUALIFIED"
	CodeBidNotLower        Code = "BID_NOT_LOWER"
	CodeDecrementTooSmall  Code = "DECREMENT_TOO_SMALL"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeStaleSnapshot      Code = "STALE_SNAPSHOT"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"

	// CodeRequestExpired means the request's deadline passed before it was processed.
	// Nothing was changed.
	CodeRequestExpired Code = "REQUEST_EXPIRED"
)

// Error is a domain error carrying a Code. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrAuctionNotLive     = &Error{Code: CodeAuctionNotLive, Message: "auction is not live"}
	ErrBidderNotQualified = &Error{Code: CodeBidderNotQualified, Message: "bidder is not qualified for this auction"}
	ErrBidNotLower        = &Error{Code: CodeBidNotLower, Message: "bid must be lower than the current lowest bid"}
	ErrDecrementTooSmall  = &Error{Code: CodeDecrementTooSmall, Message: "bid does not meet the minimum decrement"}
	ErrInvalidAmount      = &Error{Code: CodeInvalidAmount, Message: "bid amount must be positive"}
	ErrStateConflict      = &Error{Code: CodeStateConflict, Message: "operation not allowed in current state"}
	ErrStaleSnapshot      = &Error{Code: CodeStaleSnapshot, Message: "snapshot is stale"}
	ErrPersistenceFailure = &Error{Code: CodePersistenceFailure, Message: "failed to persist change"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrRequestExpired     = &Error{Code: CodeRequestExpired, Message: "request expired before it was processed"}
)

// New returns an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error with the given code that wraps err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the domain message of err without the code prefix.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
