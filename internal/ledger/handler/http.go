// Package handler exposes balance, transfer and history over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custodial-ledger/internal/ledger/domain"
	"custodial-ledger/internal/ledger/service"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/internal/money"
	"custodial-ledger/internal/server/interceptors"
	"custodial-ledger/internal/server/response"
)

// IdempotencyHeader carries the client's retry key for POST /transfer.
const IdempotencyHeader = "Idempotency-Key"

// Handler serves the ledger endpoints. Every route requires a session in the request context.
type Handler struct {
	ledger  *service.LedgerService
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewHandler returns a ledger handler. m may be nil.
func NewHandler(ledger *service.LedgerService, m *metrics.Metrics, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{ledger: ledger, metrics: m, log: log.WithField("component", "ledger.http")}
}

type transferRequest struct {
	ToLogin string `json:"to_login"`
	// Amount may be sent as a JSON number or a decimal string.
	Amount json.RawMessage `json:"amount"`
}

type transferView struct {
	ID         string `json:"id"`
	Direction  string `json:"direction,omitempty"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	CreatedAt  string `json:"created_at"`
}

// Balance handles GET /balance.
func (h *Handler) Balance(c *gin.Context) {
	bal, err := h.ledger.Balance(c.Request.Context())
	if err != nil {
		response.Fail(c, h.log, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"balance": money.Format(bal)})
}

// Transfer handles POST /transfer.
func (h *Handler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Validation(c, "request body must be a JSON object")
		return
	}
	t, err := h.ledger.Transfer(c.Request.Context(), service.TransferRequest{
		ReceiverLogin:  req.ToLogin,
		Amount:         rawAmount(req.Amount),
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		_, p := response.Classify(err)
		h.metrics.RecordTransfer(p.Kind, 0)
		response.Fail(c, h.log, err)
		return
	}
	status := http.StatusCreated
	if t.Replayed {
		status = http.StatusOK
	} else {
		h.metrics.RecordTransfer(metrics.OutcomeOK, t.Amount.InexactFloat64())
	}
	response.OK(c, status, gin.H{"transfer": view(t, ""), "replayed": t.Replayed})
}

// History handles GET /transfers?limit=N.
func (h *Handler) History(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			response.Validation(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	transfers, err := h.ledger.History(c.Request.Context(), limit)
	if err != nil {
		response.Fail(c, h.log, err)
		return
	}
	caller := ""
	if len(transfers) > 0 {
		caller = callerID(c)
	}
	out := make([]transferView, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, view(t, caller))
	}
	response.OK(c, http.StatusOK, gin.H{"transfers": out})
}

func view(t *domain.Transfer, caller string) transferView {
	v := transferView{
		ID:         t.ID,
		SenderID:   t.SenderID,
		ReceiverID: t.ReceiverID,
		Amount:     money.Format(t.Amount),
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if caller != "" {
		v.Direction = t.Direction(caller)
	}
	return v
}

// rawAmount returns the amount text; a JSON string is unquoted, a number is passed through.
func rawAmount(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return ""
		}
		return unquoted
	}
	if s == "null" {
		return ""
	}
	return s
}

func callerID(c *gin.Context) string {
	id, _ := interceptors.GetAccountID(c.Request.Context())
	return id
}
