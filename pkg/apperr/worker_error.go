package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeForbidden    = "FORBIDDEN"

	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeConflict      = "CONFLICT"

	// External errors
	CodeOAuthFailed   = "OAUTH_FAILED"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"

	// Domain-state errors (mail platform)
	CodeDomainDisabled          = "DOMAIN_DISABLED"
	CodeDomainUnverified        = "DOMAIN_UNVERIFIED"
	CodeMailboxDisabled         = "MAILBOX_DISABLED"
	CodeMailboxNotOutgoing      = "MAILBOX_NOT_OUTGOING"
	CodeMailboxNotIncoming      = "MAILBOX_NOT_INCOMING"
	CodeRecipientLimitExceeded  = "RECIPIENT_LIMIT_EXCEEDED"
	CodeDuplicateRecipient      = "DUPLICATE_RECIPIENT"
	CodeInvalidEmail            = "INVALID_EMAIL"
	CodeAttachmentTooLarge      = "ATTACHMENT_TOO_LARGE"
	CodeTotalAttachmentsTooBig  = "TOTAL_ATTACHMENTS_TOO_LARGE"
	CodeMessageTooLarge         = "MESSAGE_TOO_LARGE"
	CodeForbiddenHeader         = "FORBIDDEN_HEADER"
	CodeFutureDated             = "FUTURE_DATED"
	CodeInvalidDateFormat       = "INVALID_DATE_FORMAT"
	CodeInvalidScanningMode     = "INVALID_SCANNING_MODE"
	CodeNotMailboxOwner         = "NOT_MAILBOX_OWNER"
	CodeNotPostmaster           = "NOT_POSTMASTER"
	CodeNotSystemManager        = "NOT_SYSTEM_MANAGER"
	CodeDuplicateSyncHistory    = "DUPLICATE_SYNC_HISTORY"
	CodeCorruptMessage          = "CORRUPT_MESSAGE"
	CodeAliasDisabled           = "ALIAS_DISABLED"
	CodeDKIMKeyMissing          = "DKIM_KEY_MISSING"
	CodeNoOutgoingAgent         = "NO_OUTGOING_AGENT"

	// Transient infrastructure errors (retried locally)
	CodeBrokerUnavailable = "BROKER_UNAVAILABLE"
	CodeAgentUnreachable  = "AGENT_UNREACHABLE"
	CodeDNSLookupFailed   = "DNS_LOOKUP_FAILED"
	CodeSpamdUnavailable  = "SPAMD_UNAVAILABLE"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidToken,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Status:  http.StatusConflict,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// External errors
func OAuthFailed(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeOAuthFailed,
		Message: fmt.Sprintf("OAuth failed for %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Domain-state constructors
func DomainDisabled(domain string) *AppError {
	return &AppError{Code: CodeDomainDisabled, Message: fmt.Sprintf("mail domain %q is disabled", domain), Status: http.StatusConflict}
}

func DomainUnverified(domain string) *AppError {
	return &AppError{Code: CodeDomainUnverified, Message: fmt.Sprintf("mail domain %q is not verified", domain), Status: http.StatusConflict}
}

func MailboxDisabled(mailbox string) *AppError {
	return &AppError{Code: CodeMailboxDisabled, Message: fmt.Sprintf("mailbox %q is disabled", mailbox), Status: http.StatusConflict}
}

func MailboxNotOutgoing(mailbox string) *AppError {
	return &AppError{Code: CodeMailboxNotOutgoing, Message: fmt.Sprintf("mailbox %q is not enabled for outgoing mail", mailbox), Status: http.StatusForbidden}
}

func MailboxNotIncoming(mailbox string) *AppError {
	return &AppError{Code: CodeMailboxNotIncoming, Message: fmt.Sprintf("mailbox %q is not enabled for incoming mail", mailbox), Status: http.StatusForbidden}
}

func RecipientLimitExceeded(limit int) *AppError {
	return &AppError{Code: CodeRecipientLimitExceeded, Message: fmt.Sprintf("recipient count exceeds the configured limit of %d", limit), Status: http.StatusBadRequest}
}

func DuplicateRecipient(email string) *AppError {
	return &AppError{Code: CodeDuplicateRecipient, Message: fmt.Sprintf("recipient %q is duplicated", email), Status: http.StatusBadRequest}
}

func InvalidEmail(email string) *AppError {
	return &AppError{Code: CodeInvalidEmail, Message: fmt.Sprintf("%q is not a valid email address", email), Status: http.StatusBadRequest}
}

func AttachmentTooLarge(name string, size, limit int) *AppError {
	return &AppError{Code: CodeAttachmentTooLarge, Message: fmt.Sprintf("attachment %q (%d bytes) exceeds the per-attachment limit of %d bytes", name, size, limit), Status: http.StatusBadRequest}
}

func TotalAttachmentsTooLarge(size, limit int) *AppError {
	return &AppError{Code: CodeTotalAttachmentsTooBig, Message: fmt.Sprintf("total attachment size %d bytes exceeds the limit of %d bytes", size, limit), Status: http.StatusBadRequest}
}

func MessageTooLarge(size, limit int) *AppError {
	return &AppError{Code: CodeMessageTooLarge, Message: fmt.Sprintf("message size %d bytes exceeds the limit of %d bytes", size, limit), Status: http.StatusBadRequest}
}

func ForbiddenHeader(name string) *AppError {
	return &AppError{Code: CodeForbiddenHeader, Message: fmt.Sprintf("header %q may not be set by the caller", name), Status: http.StatusBadRequest}
}

func FutureDated() *AppError {
	return &AppError{Code: CodeFutureDated, Message: "date header is set in the future", Status: http.StatusBadRequest}
}

func InvalidDateFormat(value string) *AppError {
	return &AppError{Code: CodeInvalidDateFormat, Message: fmt.Sprintf("%q is not a valid date", value), Status: http.StatusBadRequest}
}

func InvalidScanningMode(mode string) *AppError {
	return &AppError{Code: CodeInvalidScanningMode, Message: fmt.Sprintf("%q is not a recognised scanning mode", mode), Status: http.StatusInternalServerError}
}

func NotMailboxOwner(user string) *AppError {
	return &AppError{Code: CodeNotMailboxOwner, Message: fmt.Sprintf("%q does not own this mailbox", user), Status: http.StatusForbidden}
}

func NotPostmaster(user string) *AppError {
	return &AppError{Code: CodeNotPostmaster, Message: fmt.Sprintf("%q is not the postmaster of this domain", user), Status: http.StatusForbidden}
}

func NotSystemManager(user string) *AppError {
	return &AppError{Code: CodeNotSystemManager, Message: fmt.Sprintf("%q is not a system manager", user), Status: http.StatusForbidden}
}

func DuplicateSyncHistory(source, userEmail, mailbox string) *AppError {
	return &AppError{Code: CodeDuplicateSyncHistory, Message: fmt.Sprintf("sync history already exists for %s/%s/%s", source, userEmail, mailbox), Status: http.StatusConflict}
}

func CorruptMessage(reason string) *AppError {
	return &AppError{Code: CodeCorruptMessage, Message: fmt.Sprintf("message could not be parsed: %s", reason), Status: http.StatusBadRequest}
}

func AliasDisabled(alias string) *AppError {
	return &AppError{Code: CodeAliasDisabled, Message: fmt.Sprintf("alias %q is disabled", alias), Status: http.StatusConflict}
}

func DKIMKeyMissing(domain string) *AppError {
	return &AppError{Code: CodeDKIMKeyMissing, Message: fmt.Sprintf("mail domain %q has no active DKIM key", domain), Status: http.StatusConflict}
}

func NoOutgoingAgent() *AppError {
	return &AppError{Code: CodeNoOutgoingAgent, Message: "no enabled outgoing mail agent is available", Status: http.StatusServiceUnavailable}
}

// Transient infrastructure constructors
func BrokerUnavailable(err error) *AppError {
	return &AppError{Code: CodeBrokerUnavailable, Message: "message broker is unavailable", Status: http.StatusServiceUnavailable, Err: err}
}

func AgentUnreachable(agent string, err error) *AppError {
	return &AppError{Code: CodeAgentUnreachable, Message: fmt.Sprintf("mail agent %q is unreachable", agent), Status: http.StatusBadGateway, Err: err}
}

func DNSLookupFailed(name string, err error) *AppError {
	return &AppError{Code: CodeDNSLookupFailed, Message: fmt.Sprintf("DNS lookup failed for %q", name), Status: http.StatusBadGateway, Err: err}
}

func SpamdUnavailable(err error) *AppError {
	return &AppError{Code: CodeSpamdUnavailable, Message: "spamd is unavailable", Status: http.StatusServiceUnavailable, Err: err}
}

// Common error instances
var (
	ErrNotFound     = NotFound("resource")
	ErrUnauthorized = Unauthorized("")
	ErrForbidden    = Forbidden("")
	ErrBadRequest   = BadRequest("bad request")
	ErrInternal     = Internal("")
	ErrConflict     = Conflict("resource conflict")
	ErrRateLimited  = New("RATE_LIMITED", "too many requests", http.StatusTooManyRequests)
)

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
