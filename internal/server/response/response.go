// Package response writes the JSON envelope shared by every endpoint and maps service errors to error kinds.
package response

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	accountrepo "custodial-ledger/internal/account/repository"
	identityservice "custodial-ledger/internal/identity/service"
	ledgerservice "custodial-ledger/internal/ledger/service"
	"custodial-ledger/internal/mfa"
	"custodial-ledger/internal/platform/authz"
)

// Error kinds reported to clients.
const (
	KindValidation        = "validation"
	KindInvalidAmount     = "invalid_amount"
	KindSelfTransfer      = "self_transfer"
	KindUnauthorized      = "unauthorized"
	KindPolicyDenied      = "policy_denied"
	KindNotFound          = "not_found"
	KindDuplicateIdentity = "duplicate_identity"
	KindInsufficientFunds = "insufficient_funds"
	KindCodeMismatch      = "code_mismatch"
	KindExpired           = "expired"
	KindTooManyAttempts   = "too_many_attempts"
	KindRateLimited       = "rate_limited"
	KindServerFault       = "server_fault"
)

const serverFaultMessage = "internal error"

// ErrRateLimited is rendered when a client exceeds its request budget.
var ErrRateLimited = errors.New("too many requests")

// Problem is the error half of the envelope.
type Problem struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type classified struct {
	target error
	status int
	kind   string
}

// Order matters: the first match wins.
var classes = []classified{
	{identityservice.ErrValidation, http.StatusBadRequest, KindValidation},
	{ledgerservice.ErrValidation, http.StatusBadRequest, KindValidation},
	{ledgerservice.ErrIdempotencyConflict, http.StatusBadRequest, KindValidation},
	{ledgerservice.ErrInvalidAmount, http.StatusBadRequest, KindInvalidAmount},
	{ledgerservice.ErrSelfTransfer, http.StatusBadRequest, KindSelfTransfer},
	{identityservice.ErrInvalidCredentials, http.StatusUnauthorized, KindUnauthorized},
	{identityservice.ErrUnauthorized, http.StatusUnauthorized, KindUnauthorized},
	{authz.ErrUnauthorized, http.StatusUnauthorized, KindUnauthorized},
	{ledgerservice.ErrPolicyDenied, http.StatusForbidden, KindPolicyDenied},
	{ledgerservice.ErrReceiverNotFound, http.StatusNotFound, KindNotFound},
	{accountrepo.ErrNotFound, http.StatusNotFound, KindNotFound},
	{accountrepo.ErrDuplicateIdentity, http.StatusConflict, KindDuplicateIdentity},
	{ledgerservice.ErrInsufficientFunds, http.StatusConflict, KindInsufficientFunds},
	{mfa.ErrCodeMismatch, http.StatusUnauthorized, KindCodeMismatch},
	{mfa.ErrExpired, http.StatusUnauthorized, KindExpired},
	{mfa.ErrTooManyAttempts, http.StatusTooManyRequests, KindTooManyAttempts},
	{ErrRateLimited, http.StatusTooManyRequests, KindRateLimited},
}

// Classify maps err to an HTTP status and error kind. Unknown errors are server faults.
func Classify(err error) (int, Problem) {
	for _, c := range classes {
		if errors.Is(err, c.target) {
			return c.status, Problem{Kind: c.kind, Message: message(err, c.target)}
		}
	}
	return http.StatusInternalServerError, Problem{Kind: KindServerFault, Message: serverFaultMessage}
}

// message strips the sentinel prefix from wrapped validation errors ("validation error: login is required").
func message(err, target error) string {
	msg := err.Error()
	prefix := target.Error() + ": "
	if target != err && strings.HasPrefix(msg, prefix) && (target == identityservice.ErrValidation || target == ledgerservice.ErrValidation) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}

// OK writes a success envelope with payload merged in.
func OK(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// Fail writes the failure envelope for err. Server faults are logged with detail and reported generically.
func Fail(c *gin.Context, log logrus.FieldLogger, err error) {
	status, p := Classify(err)
	if p.Kind == KindServerFault && log != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}
	c.Set(kindKey, p.Kind)
	c.JSON(status, gin.H{"success": false, "error": p})
}

// Abort is Fail for middleware: it also stops the handler chain.
func Abort(c *gin.Context, log logrus.FieldLogger, err error) {
	Fail(c, log, err)
	c.Abort()
}

// Validation writes a validation failure with msg.
func Validation(c *gin.Context, msg string) {
	c.Set(kindKey, KindValidation)
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": Problem{Kind: KindValidation, Message: msg}})
}

const kindKey = "response.error_kind"

// ErrorKind returns the kind of the failure written for this request, or "" on success.
func ErrorKind(c *gin.Context) string {
	return c.GetString(kindKey)
}
