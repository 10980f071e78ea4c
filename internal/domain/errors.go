package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced by the bidding and payment core.
const (
	CodeAuctionNotActive    = "auction_not_active"
	CodeInsufficientCredits = "insufficient_credits"
	CodeBidRaceLost         = "bid_race_lost"
	CodeBidInvalid          = "bid_invalid"
	CodeMissingMetadata     = "missing_metadata"
	CodeUserNotFound        = "user_not_found"
	CodeBidPackNotFound     = "bid_pack_not_found"

	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeGateway      = "GATEWAY_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

func ErrGateway(msg string, cause error) *AppError {
	return &AppError{Code: CodeGateway, Message: msg, Status: 502, Cause: cause}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

func ErrAuctionNotActive(auctionID string) *AppError {
	return &AppError{Code: CodeAuctionNotActive, Message: fmt.Sprintf("auction %s is not accepting bids", auctionID), Status: 409}
}

func ErrInsufficientCredits() *AppError {
	return &AppError{Code: CodeInsufficientCredits, Message: "insufficient bid credits", Status: 402}
}

func ErrBidRaceLost() *AppError {
	return &AppError{Code: CodeBidRaceLost, Message: "another bid was placed first", Status: 409}
}

func ErrBidInvalid(msg string, cause error) *AppError {
	return &AppError{Code: CodeBidInvalid, Message: msg, Status: 422, Cause: cause}
}

func ErrMissingMetadata(field string) *AppError {
	return &AppError{Code: CodeMissingMetadata, Message: fmt.Sprintf("payment metadata %s is missing or malformed", field), Status: 422}
}

func ErrUserNotFound(id string) *AppError {
	return &AppError{Code: CodeUserNotFound, Message: fmt.Sprintf("user %s not found", id), Status: 404}
}

func ErrBidPackNotFound(id string) *AppError {
	return &AppError{Code: CodeBidPackNotFound, Message: fmt.Sprintf("bid pack %s not found", id), Status: 404}
}

// AsAppError unwraps err to its *AppError, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsPermanent reports whether err is a business rejection that a redelivery
// of the same input cannot fix.
func IsPermanent(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeMissingMetadata, CodeUserNotFound, CodeBidPackNotFound, CodeValidation, CodeNotFound:
		return true
	}
	return false
}
