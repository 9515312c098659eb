// Package apierror maps ledger failures onto HTTP responses.
package apierror

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_service/internal/ledger"
)

// RetryAfterSeconds is advertised on responses the caller may retry.
const RetryAfterSeconds = 1

// Machine-readable codes rendered in the "code" field of error bodies.
const (
	CodeNotFound            = "not_found"
	CodeInvalidAmount       = "invalid_amount"
	CodeNameMismatch        = "name_mismatch"
	CodeSameAccount         = "same_account"
	CodeInvalidInput        = "invalid_input"
	CodeInsufficientBalance = "insufficient_balance"
	CodeDuplicateRequest    = "duplicate_request"
	CodeRequestInProgress   = "request_in_progress"
	CodeAccountBusy         = "account_busy"
	CodeLedgerUnavailable   = "ledger_unavailable"
	CodeInternal            = "internal"
)

// Error is a fiber error with a stable code. It unwraps to *fiber.Error so
// fiber's own handlers still read its status.
type Error struct {
	Code  string
	cause *fiber.Error
}

// NewError builds an Error for status, code and message.
func NewError(status int, code, message string) *Error {
	return &Error{Code: code, cause: fiber.NewError(status, message)}
}

func (e *Error) Error() string { return e.cause.Message }

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status, code and public message for err.
func Status(err error) (int, string, string) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "resource not found"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, CodeInvalidAmount, "invalid amount"
	case errors.Is(err, ledger.ErrNameMismatch):
		return http.StatusBadRequest, CodeNameMismatch, "account name does not match"
	case errors.Is(err, ledger.ErrSameAccount):
		return http.StatusBadRequest, CodeSameAccount, "sender and receiver must differ"
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput, err.Error()
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, CodeInsufficientBalance, "insufficient balance"
	case errors.Is(err, ledger.ErrDuplicateRequest):
		return http.StatusConflict, CodeDuplicateRequest, "request already processed"
	case errors.Is(err, ledger.ErrLockTimeout):
		return http.StatusServiceUnavailable, CodeAccountBusy, "account busy, retry later"
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeLedgerUnavailable, "ledger unavailable, retry later"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

// Respond converts err into an Error, setting Retry-After when the caller may
// retry with the same idempotency key.
func Respond(c *fiber.Ctx, err error) error {
	status, code, message := Status(err)
	if ledger.IsRetryable(err) {
		SetRetryAfter(c)
	}
	return NewError(status, code, message)
}

// SetRetryAfter advertises RetryAfterSeconds on the response.
func SetRetryAfter(c *fiber.Ctx) {
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(RetryAfterSeconds))
}

// Handler renders errors as JSON bodies carrying the request ID.
func Handler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		message = fe.Message
	}

	reqID, _ := c.Locals("X-Request-ID").(string)
	body := fiber.Map{
		"error":      message,
		"request_id": reqID,
	}
	var ce *Error
	if errors.As(err, &ce) {
		body["code"] = ce.Code
	}
	return c.Status(status).JSON(body)
}
