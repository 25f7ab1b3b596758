package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_CountsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Instrument())
	r.GET("/balance", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/balance", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/balance", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordTransfer(OutcomeOK, 300)
	m.RecordTransfer("insufficient_funds", 150)
	m.RecordLogin(OutcomeOK)
	m.RecordVerification("code_mismatch")
	m.RecordSweep("sessions", 4)
	m.RecordSweep("sessions", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("insufficient_funds")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.transferTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("code_mismatch")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.sweeps.WithLabelValues("sessions")))

	var nilMetrics *Metrics
	nilMetrics.RecordTransfer(OutcomeOK, 1)
}

func TestHandler_Exposes(t *testing.T) {
	m := New()
	m.RecordLogin(OutcomeOK)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "custodial_ledger_auth_logins_total"))
}
