package referral

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"saas-plan-payments/internal/config"
	"saas-plan-payments/internal/domain/ports/adapter"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier(t *testing.T) {
	var (
		got     commissionBody
		auth    string
		idemKey string
		status  = http.StatusAccepted
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		idemKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n := New(config.ReferralConfig{URL: srv.URL, Token: "tok", Timeout: time.Second})
	c := adapter.Commission{
		ReferrerID: "ref-1", UserID: "user-1", PaymentID: "ord_1", PlanID: "pro",
		Amount: decimal.RequireFromString("864"), Currency: "USD",
	}
	require.NoError(t, n.AccrueCommission(context.Background(), c))
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "ord_1", idemKey)
	assert.Equal(t, "864.00", got.Amount)
	assert.Equal(t, "ref-1", got.ReferrerID)

	status = http.StatusInternalServerError
	assert.Error(t, n.AccrueCommission(context.Background(), c))
}

func TestNewWithoutURLIsNoop(t *testing.T) {
	n := New(config.ReferralConfig{})
	assert.IsType(t, Noop{}, n)
	assert.NoError(t, n.AccrueCommission(context.Background(), adapter.Commission{}))
}
