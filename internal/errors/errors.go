package errors

import (
	stderrors "errors"
	"fmt"
)

// Config file errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Configuration errors

// ErrConfiguration reports a missing or inconsistent field detected before
// any network call is attempted.
type ErrConfiguration struct {
	Field  string
	Reason string
}

func (e *ErrConfiguration) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s is required", e.Field)
}

// Protocol errors

// ErrProtocol carries the transport-level failure detail from the RPC
// backend: HTTP status plus the backend error type with its namespace
// prefix already stripped.
type ErrProtocol struct {
	HTTPStatus int
	ErrorType  string
	Message    string
}

func (e *ErrProtocol) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("rpc error %d (%s): %s", e.HTTPStatus, e.ErrorType, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.HTTPStatus, e.Message)
}

// ErrBanned marks an account the backend has suspended or locked. This is
// terminal: refreshing tokens will not recover it, and callers must present
// it distinctly from an expired authorization.
type ErrBanned struct {
	HTTPStatus int
	ErrorType  string
	Message    string
}

func (e *ErrBanned) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("account suspended: %s", e.Message)
	}
	return "account suspended"
}

// ErrAuthorizationExpired is an HTTP 401 from the backend. Potentially
// recoverable by a token refresh.
type ErrAuthorizationExpired struct {
	Message string
}

func (e *ErrAuthorizationExpired) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authorization expired: %s", e.Message)
	}
	return "authorization expired"
}

// ErrReauthRequired is the terminal form of an authorization failure: the
// bundle could not be refreshed (or its scheme cannot refresh), so the user
// has to add the account again.
type ErrReauthRequired struct {
	Cause error
}

func (e *ErrReauthRequired) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("re-authentication required: %v", e.Cause)
	}
	return "re-authentication required"
}

func (e *ErrReauthRequired) Unwrap() error {
	return e.Cause
}

// Flow errors

// ErrAuthorizationDenied is a terminal login-flow failure: the user (or the
// backend) rejected the authorization request.
type ErrAuthorizationDenied struct {
	Reason string
}

func (e *ErrAuthorizationDenied) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authorization denied: %s", e.Reason)
	}
	return "authorization denied"
}

// ErrFlowExpired reports a login session that ran past its TTL.
type ErrFlowExpired struct {
	Flow string
}

func (e *ErrFlowExpired) Error() string {
	return fmt.Sprintf("%s session expired", e.Flow)
}

// ErrStateMismatch reports a PKCE callback whose state parameter does not
// match the session. No token exchange is attempted.
type ErrStateMismatch struct{}

func (e *ErrStateMismatch) Error() string {
	return "oauth state mismatch"
}

// ErrFlowCancelled reports an explicitly cancelled login flow.
// WindowClosed distinguishes the user closing the embedded browser window
// from a programmatic cancel.
type ErrFlowCancelled struct {
	WindowClosed bool
}

func (e *ErrFlowCancelled) Error() string {
	if e.WindowClosed {
		return "login cancelled: browser window closed"
	}
	return "login cancelled"
}

// Refresh errors

// ErrRefresh wraps a strategy failure. The underlying message is preserved
// verbatim; the dispatcher never rewrites or falls back.
type ErrRefresh struct {
	Method string
	Err    error
}

func (e *ErrRefresh) Error() string {
	return fmt.Sprintf("token refresh (%s) failed: %v", e.Method, e.Err)
}

func (e *ErrRefresh) Unwrap() error {
	return e.Err
}

// Classification helpers

// IsBanned reports whether err marks a suspended account anywhere in its
// chain.
func IsBanned(err error) bool {
	var banned *ErrBanned
	return stderrors.As(err, &banned)
}

// IsAuthorizationExpired reports whether err is a recoverable 401.
func IsAuthorizationExpired(err error) bool {
	var expired *ErrAuthorizationExpired
	return stderrors.As(err, &expired)
}

// IsConfiguration reports whether err is a fail-fast configuration error.
func IsConfiguration(err error) bool {
	var cfg *ErrConfiguration
	return stderrors.As(err, &cfg)
}

// IsStateMismatch reports whether err is a PKCE state mismatch.
func IsStateMismatch(err error) bool {
	var mismatch *ErrStateMismatch
	return stderrors.As(err, &mismatch)
}

// IsCancelled reports whether err is a cancelled login flow.
func IsCancelled(err error) bool {
	var cancelled *ErrFlowCancelled
	return stderrors.As(err, &cancelled)
}

// IsReauthRequired reports whether err demands the account be re-added.
func IsReauthRequired(err error) bool {
	var reauth *ErrReauthRequired
	return stderrors.As(err, &reauth)
}
