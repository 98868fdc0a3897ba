package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-service/internal/ledger/store"
	"raffle-service/internal/payment"
)

type fakeOrder struct {
	Status   string
	Currency string
	Value    string
}

// fakePayPal serves the token and order-lookup endpoints the verifier
// talks to, and counts token requests so caching can be asserted.
func fakePayPal(t *testing.T, orders map[string]fakeOrder, tokenCalls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if tokenCalls != nil {
			*tokenCalls++
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/checkout/orders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v2/checkout/orders/")
		order, ok := orders[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"status":%q,"purchase_units":[{"amount":{"currency_code":%q,"value":%q}}]}`,
			id, order.Status, order.Currency, order.Value)
	})
	return httptest.NewServer(mux)
}

func newTestVerifier(srv *httptest.Server) *payment.Verifier {
	return payment.NewVerifier(srv.URL, "client-id", "client-secret", 5.0, "USD", srv.Client(), store.NewMemory(), nil)
}

func TestVerifyOrderCompleted(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-1": {Status: "COMPLETED", Currency: "USD", Value: "10.00"},
	}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	err := v.VerifyOrder(context.Background(), "ORDER-1", 2)
	assert.NoError(t, err)
}

func TestVerifyOrderNotCompleted(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-2": {Status: "CREATED", Currency: "USD", Value: "5.00"},
	}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	err := v.VerifyOrder(context.Background(), "ORDER-2", 1)
	assert.ErrorIs(t, err, payment.ErrOrderNotCompleted)
}

func TestVerifyOrderUnknown(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	err := v.VerifyOrder(context.Background(), "ORDER-MISSING", 1)
	assert.ErrorIs(t, err, payment.ErrOrderNotCompleted)
}

func TestVerifyOrderAmountTooLow(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-3": {Status: "COMPLETED", Currency: "USD", Value: "5.00"},
	}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	err := v.VerifyOrder(context.Background(), "ORDER-3", 2)
	assert.ErrorIs(t, err, payment.ErrAmountMismatch)
}

func TestVerifyOrderWrongCurrency(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-4": {Status: "COMPLETED", Currency: "EUR", Value: "10.00"},
	}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	err := v.VerifyOrder(context.Background(), "ORDER-4", 2)
	assert.ErrorIs(t, err, payment.ErrAmountMismatch)
}

func TestVerifyOrderReuseRejected(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-5": {Status: "COMPLETED", Currency: "USD", Value: "5.00"},
	}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	require.NoError(t, v.VerifyOrder(context.Background(), "ORDER-5", 1))

	err := v.VerifyOrder(context.Background(), "ORDER-5", 1)
	assert.ErrorIs(t, err, payment.ErrOrderAlreadyUsed)
}

func TestReleasedOrderCanBeVerifiedAgain(t *testing.T) {
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-9": {Status: "COMPLETED", Currency: "USD", Value: "5.00"},
	}, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	ctx := context.Background()

	require.NoError(t, v.VerifyOrder(ctx, "ORDER-9", 1))
	require.NoError(t, v.ReleaseOrder(ctx, "ORDER-9"))

	// The retry consumes the order again, and only once.
	require.NoError(t, v.VerifyOrder(ctx, "ORDER-9", 1))
	assert.ErrorIs(t, v.VerifyOrder(ctx, "ORDER-9", 1), payment.ErrOrderAlreadyUsed)
}

func TestReleaseUnknownOrderIsNoop(t *testing.T) {
	srv := fakePayPal(t, nil, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	assert.NoError(t, v.ReleaseOrder(context.Background(), "NEVER-SEEN"))
}

func TestVerifyOrderInvalidInput(t *testing.T) {
	srv := fakePayPal(t, nil, nil)
	defer srv.Close()

	v := newTestVerifier(srv)
	assert.Error(t, v.VerifyOrder(context.Background(), "", 1))
	assert.Error(t, v.VerifyOrder(context.Background(), "ORDER-6", 0))
}

func TestAccessTokenCached(t *testing.T) {
	tokenCalls := 0
	srv := fakePayPal(t, map[string]fakeOrder{
		"ORDER-7": {Status: "COMPLETED", Currency: "USD", Value: "5.00"},
		"ORDER-8": {Status: "COMPLETED", Currency: "USD", Value: "5.00"},
	}, &tokenCalls)
	defer srv.Close()

	v := newTestVerifier(srv)
	require.NoError(t, v.VerifyOrder(context.Background(), "ORDER-7", 1))
	require.NoError(t, v.VerifyOrder(context.Background(), "ORDER-8", 1))

	assert.Equal(t, 1, tokenCalls, "token should be fetched once and reused")
}
