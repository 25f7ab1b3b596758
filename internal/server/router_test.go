package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountdomain "custodial-ledger/internal/account/domain"
	accountrepo "custodial-ledger/internal/account/repository"
	"custodial-ledger/internal/devotp"
	identityservice "custodial-ledger/internal/identity/service"
	ledgerdomain "custodial-ledger/internal/ledger/domain"
	ledgerrepo "custodial-ledger/internal/ledger/repository"
	ledgerservice "custodial-ledger/internal/ledger/service"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/internal/mfa"
	mfadomain "custodial-ledger/internal/mfa/domain"
	mfarepo "custodial-ledger/internal/mfa/repository"
	"custodial-ledger/internal/security"
	"custodial-ledger/internal/server/middleware"
	sessiondomain "custodial-ledger/internal/session/domain"
)

// memStore backs accounts, sessions, challenges and transfers with one mutex.
type memStore struct {
	mu         sync.Mutex
	accounts   map[string]*accountdomain.Account
	byLogin    map[string]string
	sessions   map[string]*sessiondomain.Session
	challenges map[string]*mfadomain.Challenge
	transfers  []*ledgerdomain.Transfer
}

func newMemStore() *memStore {
	return &memStore{
		accounts:   map[string]*accountdomain.Account{},
		byLogin:    map[string]string{},
		sessions:   map[string]*sessiondomain.Session{},
		challenges: map[string]*mfadomain.Challenge{},
	}
}

// accounts

type memAccounts struct{ *memStore }

func (s memAccounts) Create(ctx context.Context, a *accountdomain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byLogin[a.Login]; ok {
		return accountrepo.ErrDuplicateIdentity
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.byLogin[a.Login] = a.ID
	return nil
}

func (s memAccounts) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s memAccounts) GetByLogin(ctx context.Context, login string) (*accountdomain.Account, error) {
	s.mu.Lock()
	id, ok := s.byLogin[login]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s memAccounts) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return decimal.Zero, accountrepo.ErrNotFound
	}
	return a.Balance, nil
}

// sessions

type memSessions struct{ *memStore }

func (s memSessions) Create(ctx context.Context, sess *sessiondomain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s memSessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (s memSessions) Elevate(ctx context.Context, id string, at, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.State != sessiondomain.StatePendingOTP {
		return false, nil
	}
	sess.State = sessiondomain.StateAuthorized
	sess.ExpiresAt = expiresAt
	sess.LastSeenAt = at
	return true, nil
}

func (s memSessions) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastSeenAt = at
	}
	return nil
}

func (s memSessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for acc, c := range s.challenges {
		if c.SessionID == id {
			delete(s.challenges, acc)
		}
	}
	return nil
}

// challenges

type memChallenges struct{ *memStore }

func (s memChallenges) Replace(ctx context.Context, c *mfadomain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.AccountID] = &cp
	return nil
}

func (s memChallenges) Resolve(ctx context.Context, accountID string, decide mfarepo.Decide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var view *mfadomain.Challenge
	if c, ok := s.challenges[accountID]; ok {
		cp := *c
		view = &cp
	}
	action, err := decide(view)
	switch action {
	case mfadomain.CountFailure:
		s.challenges[accountID].Attempts++
	case mfadomain.Consume:
		delete(s.challenges, accountID)
	}
	return err
}

func (s memChallenges) DeleteBySession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for acc, c := range s.challenges {
		if c.SessionID == sessionID {
			delete(s.challenges, acc)
		}
	}
	return nil
}

func (s memChallenges) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// transfers

type memTransfers struct{ *memStore }

func (s memTransfers) Execute(ctx context.Context, t *ledgerdomain.Transfer) (*ledgerdomain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.IdempotencyKey != "" {
		for _, prior := range s.transfers {
			if prior.SenderID == t.SenderID && prior.IdempotencyKey == t.IdempotencyKey {
				if !prior.SameRequest(t) {
					return nil, ledgerrepo.ErrIdempotencyConflict
				}
				out := *prior
				out.Replayed = true
				return &out, nil
			}
		}
	}
	sender, receiver := s.accounts[t.SenderID], s.accounts[t.ReceiverID]
	if sender == nil || receiver == nil {
		return nil, ledgerrepo.ErrAccountNotFound
	}
	if sender.Balance.LessThan(t.Amount) {
		return nil, ledgerrepo.ErrInsufficientFunds
	}
	sender.Balance = sender.Balance.Sub(t.Amount)
	receiver.Balance = receiver.Balance.Add(t.Amount)
	cp := *t
	s.transfers = append(s.transfers, &cp)
	return t, nil
}

func (s memTransfers) ListByAccount(ctx context.Context, accountID string, limit int) ([]*ledgerdomain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledgerdomain.Transfer
	for i := len(s.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		if t := s.transfers[i]; t.SenderID == accountID || t.ReceiverID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) Deliver(ctx context.Context, contact, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[contact] = code
	return nil
}

func (b *inbox) code(contact string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[contact]
}

// clock is a wall clock that tests can push forward.
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type harness struct {
	router *gin.Engine
	store  *memStore
	inbox  *inbox
	clock  *clock
}

func newHarness(t *testing.T, returnCode bool) *harness {
	return newHarnessWithLimit(t, returnCode, 1000, 1000)
}

func newHarnessWithLimit(t *testing.T, returnCode bool, rps float64, burst int) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	clk := &clock{}
	store := newMemStore()
	box := &inbox{codes: map[string]string{}}
	tokens, err := security.NewTokenProvider([]byte("router-test-key-0123456789abcdef"), "")
	require.NoError(t, err)

	gate := mfa.NewGate(memChallenges{store}, 5*time.Minute, 5)
	deps := identityservice.Deps{Log: logger}
	var dev devotp.Store
	if returnCode {
		mem := devotp.NewMemoryStore()
		deps.DevStore = mem
		dev = mem
	} else {
		deps.Deliverer = box
	}
	auth := identityservice.NewAuthService(memAccounts{store}, memSessions{store}, gate, security.NewHasher(4), tokens, deps,
		identityservice.Options{
			OpeningBalance:     decimal.RequireFromString("1000.00"),
			PendingTTL:         15 * time.Minute,
			SessionTTL:         time.Hour,
			IdleTTL:            30 * time.Minute,
			ReturnCodeToClient: returnCode,
			Now:                clk.now,
		})
	ledger := ledgerservice.NewLedgerService(memAccounts{store}, memTransfers{store}, nil, nil, nil, logger)

	router := NewRouter(Deps{
		Auth:     auth,
		Ledger:   ledger,
		DevStore: dev,
		Metrics:  metrics.New(),
		Limiter:  middleware.NewRateLimiter(rps, burst, logger),
		Log:      logger,
	})
	return &harness{router: router, store: store, inbox: box, clock: clk}
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	k, _ := e["kind"].(string)
	return k
}

// loginAndVerify registers login, logs in and verifies the delivered code. Returns the authorized token.
func (h *harness) loginAndVerify(t *testing.T, login string) string {
	t.Helper()
	contact := login + "@example.com"
	status, body := h.do(t, http.MethodPost, "/register", "", map[string]string{"login": login, "password": "password123", "email": contact})
	require.Equal(t, http.StatusCreated, status, body)
	status, body = h.do(t, http.MethodPost, "/login", "", map[string]string{"login": login, "password": "password123"})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, true, body["await_code"])
	token := body["token"].(string)
	status, body = h.do(t, http.MethodPost, "/verify_code", token, map[string]string{"code": h.inbox.code(contact)})
	require.Equal(t, http.StatusOK, status, body)
	return token
}

func TestRouter_AliceSendsBob300(t *testing.T) {
	h := newHarness(t, false)
	alice := h.loginAndVerify(t, "alice")
	bob := h.loginAndVerify(t, "bob")

	status, body := h.do(t, http.MethodPost, "/transfer", alice, map[string]any{"to_login": "bob", "amount": 300})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, true, body["success"])

	_, body = h.do(t, http.MethodGet, "/balance", alice, nil)
	assert.Equal(t, "700.00", body["balance"])
	_, body = h.do(t, http.MethodGet, "/balance", bob, nil)
	assert.Equal(t, "1300.00", body["balance"])

	status, body = h.do(t, http.MethodGet, "/transfers", bob, nil)
	require.Equal(t, http.StatusOK, status)
	list := body["transfers"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "received", list[0].(map[string]any)["direction"])
	assert.Equal(t, "300.00", list[0].(map[string]any)["amount"])
}

func TestRouter_ErrorKinds(t *testing.T) {
	h := newHarness(t, false)
	alice := h.loginAndVerify(t, "alice")
	h.loginAndVerify(t, "bob")

	cases := []struct {
		name   string
		body   map[string]any
		status int
		kind   string
	}{
		{"insufficient funds", map[string]any{"to_login": "bob", "amount": "1500"}, http.StatusConflict, "insufficient_funds"},
		{"invalid amount", map[string]any{"to_login": "bob", "amount": "-5"}, http.StatusBadRequest, "invalid_amount"},
		{"missing receiver", map[string]any{"to_login": "carol", "amount": "5"}, http.StatusNotFound, "not_found"},
		{"self transfer", map[string]any{"to_login": "alice", "amount": "5"}, http.StatusBadRequest, "self_transfer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := h.do(t, http.MethodPost, "/transfer", alice, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.kind, errorKind(body))
		})
	}

	status, body := h.do(t, http.MethodPost, "/register", "", map[string]string{"login": "alice", "password": "password123", "email": "x@example.com"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_identity", errorKind(body))

	status, body = h.do(t, http.MethodPost, "/login", "", map[string]string{"login": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorKind(body))

	status, body = h.do(t, http.MethodGet, "/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorKind(body))
}

func TestRouter_PendingSessionCannotTransact(t *testing.T) {
	h := newHarness(t, false)
	h.loginAndVerify(t, "bob")
	status, _ := h.do(t, http.MethodPost, "/register", "", map[string]string{"login": "alice", "password": "password123", "email": "alice@example.com"})
	require.Equal(t, http.StatusCreated, status)
	_, body := h.do(t, http.MethodPost, "/login", "", map[string]string{"login": "alice", "password": "password123"})
	pending := body["token"].(string)

	status, body = h.do(t, http.MethodGet, "/balance", pending, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body = h.do(t, http.MethodPost, "/transfer", pending, map[string]any{"to_login": "bob", "amount": "1"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorKind(body))

	status, body = h.do(t, http.MethodPost, "/verify_code", pending, map[string]string{"code": "not-it"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errorKind(body))

	wrong := "000000"
	if h.inbox.code("alice@example.com") == wrong {
		wrong = "111111"
	}
	status, body = h.do(t, http.MethodPost, "/verify_code", pending, map[string]string{"code": wrong})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "code_mismatch", errorKind(body))
}

func TestRouter_LateCodeIsExpired(t *testing.T) {
	h := newHarness(t, false)
	status, _ := h.do(t, http.MethodPost, "/register", "", map[string]string{"login": "alice", "password": "password123", "email": "alice@example.com"})
	require.Equal(t, http.StatusCreated, status)
	status, body := h.do(t, http.MethodPost, "/login", "", map[string]string{"login": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, status, body)
	pending := body["token"].(string)

	h.clock.advance(6 * time.Minute)
	status, body = h.do(t, http.MethodPost, "/verify_code", pending, map[string]string{"code": h.inbox.code("alice@example.com")})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "expired", errorKind(body))

	status, _ = h.do(t, http.MethodGet, "/balance", pending, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRouter_VerifyCodeThrottledBeforeSessionCheck(t *testing.T) {
	h := newHarnessWithLimit(t, false, 0.001, 1)

	status, body := h.do(t, http.MethodPost, "/verify_code", "", map[string]string{"code": "123456"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorKind(body))

	status, body = h.do(t, http.MethodPost, "/verify_code", "", map[string]string{"code": "123456"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", errorKind(body))
}

func TestRouter_IdempotentTransfer(t *testing.T) {
	h := newHarness(t, false)
	alice := h.loginAndVerify(t, "alice")
	h.loginAndVerify(t, "bob")

	status, first := h.do(t, http.MethodPost, "/transfer", alice, map[string]any{"to_login": "bob", "amount": "10"}, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, status)
	status, again := h.do(t, http.MethodPost, "/transfer", alice, map[string]any{"to_login": "bob", "amount": "10.00"}, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, again["replayed"])
	assert.Equal(t, first["transfer"].(map[string]any)["id"], again["transfer"].(map[string]any)["id"])

	_, body := h.do(t, http.MethodGet, "/balance", alice, nil)
	assert.Equal(t, "990.00", body["balance"])

	status, body = h.do(t, http.MethodPost, "/transfer", alice, map[string]any{"to_login": "bob", "amount": "11"}, "Idempotency-Key", "abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errorKind(body))
}

func TestRouter_Logout(t *testing.T) {
	h := newHarness(t, false)
	alice := h.loginAndVerify(t, "alice")
	status, _ := h.do(t, http.MethodGet, "/logout", alice, nil)
	require.Equal(t, http.StatusOK, status)
	status, body := h.do(t, http.MethodGet, "/balance", alice, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorKind(body))
}

func TestRouter_DevCodeDisclosure(t *testing.T) {
	h := newHarness(t, true)
	status, _ := h.do(t, http.MethodPost, "/register", "", map[string]string{"login": "alice", "password": "password123", "contact": "+15550001111"})
	require.Equal(t, http.StatusCreated, status)
	_, body := h.do(t, http.MethodPost, "/login", "", map[string]string{"login": "alice", "password": "password123"})
	token := body["token"].(string)
	devCode := body["dev_code"].(string)
	require.Len(t, devCode, 6)

	status, body = h.do(t, http.MethodGet, "/dev/otp", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, devCode, body["code"])

	status, _ = h.do(t, http.MethodPost, "/verify_code", token, map[string]string{"code": devCode})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodGet, "/dev/otp", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h := newHarness(t, false)
	status, body := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "serving", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "custodial_ledger_http_requests_total")
}
