package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"raffle-service/internal/ledger/store"
	"raffle-service/internal/logger"
)

var (
	// ErrOrderNotCompleted means the PayPal order exists but has not been captured.
	ErrOrderNotCompleted = errors.New("payment: order not completed")
	// ErrOrderAlreadyUsed means this order id already minted tickets.
	ErrOrderAlreadyUsed = errors.New("payment: order already used")
	// ErrAmountMismatch means the captured amount does not cover the purchase.
	ErrAmountMismatch = errors.New("payment: amount mismatch")
)

// Verifier checks PayPal orders through the Orders v2 API before any
// ticket is issued. Consumed order ids are remembered in the shared
// store so an order cannot mint tickets twice across restarts or
// replicas.
type Verifier struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TicketPrice  float64
	Currency     string
	Client       *http.Client
	Store        store.Store
	Logger       *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewVerifier(baseURL, clientID, clientSecret string, ticketPrice float64, currency string, client *http.Client, st store.Store, log *logger.Logger) *Verifier {
	return &Verifier{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TicketPrice:  ticketPrice,
		Currency:     currency,
		Client:       client,
		Store:        st,
		Logger:       log,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

// VerifyOrder confirms that the order is COMPLETED, paid in the right
// currency for at least quantity tickets, and has not been consumed
// before. On success the order id is marked used.
func (v *Verifier) VerifyOrder(ctx context.Context, orderID string, quantity int) error {
	if orderID == "" || quantity <= 0 {
		return fmt.Errorf("payment: order id and positive quantity required")
	}

	used, version, err := v.orderUsed(ctx, orderID)
	if err != nil {
		return err
	}
	if used {
		return ErrOrderAlreadyUsed
	}

	order, err := v.fetchOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status != "COMPLETED" {
		return fmt.Errorf("%w: status %s", ErrOrderNotCompleted, order.Status)
	}

	expected := v.TicketPrice * float64(quantity)
	paid := 0.0
	for _, unit := range order.PurchaseUnits {
		if !strings.EqualFold(unit.Amount.CurrencyCode, v.Currency) {
			return fmt.Errorf("%w: currency %s", ErrAmountMismatch, unit.Amount.CurrencyCode)
		}
		value, err := strconv.ParseFloat(unit.Amount.Value, 64)
		if err != nil {
			return fmt.Errorf("%w: unparsable amount %q", ErrAmountMismatch, unit.Amount.Value)
		}
		paid += value
	}
	if paid+1e-9 < expected {
		return fmt.Errorf("%w: paid %.2f, need %.2f", ErrAmountMismatch, paid, expected)
	}

	if err := v.markUsed(ctx, orderID, version); err != nil {
		return err
	}

	if v.Logger != nil {
		v.Logger.Info("PAYMENT", fmt.Sprintf("verified PayPal order %s for %d ticket(s)", orderID, quantity))
	}
	return nil
}

func (v *Verifier) fetchOrder(ctx context.Context, orderID string) (*orderResponse, error) {
	token, err := v.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/checkout/orders/%s", v.BaseURL, url.PathEscape(orderID)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal order lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: order %s not found", ErrOrderNotCompleted, orderID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paypal order lookup returned status %d", resp.StatusCode)
	}

	var order orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("paypal order decode failed: %w", err)
	}
	return &order, nil
}

// getAccessToken returns a cached client-credentials token, refreshing
// it a minute before expiry.
func (v *Verifier) getAccessToken(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.accessToken != "" && time.Now().Before(v.tokenExpiry.Add(-time.Minute)) {
		return v.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(v.ClientID, v.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token request returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("paypal token decode failed: %w", err)
	}

	v.accessToken = token.AccessToken
	v.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return v.accessToken, nil
}

func usedOrderKey(orderID string) string {
	return "paypal:used:" + orderID
}

// orderReleasedMarker replaces the used-order record when a consumed
// order is handed back; the key keeps its version history so the next
// consume still goes through the CAS.
const orderReleasedMarker = "released"

func (v *Verifier) orderUsed(ctx context.Context, orderID string) (bool, int64, error) {
	value, version, err := v.Store.Get(ctx, usedOrderKey(orderID))
	if errors.Is(err, store.ErrNotFound) {
		return false, version, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("used-order lookup failed: %w", err)
	}
	if string(value) == orderReleasedMarker {
		return false, version, nil
	}
	return true, version, nil
}

// ReleaseOrder returns a consumed order id to the unused pool. Called
// when ticket issuing fails after verification but before the sale is
// recorded, so the buyer's completed payment can retry instead of
// hitting ErrOrderAlreadyUsed forever.
func (v *Verifier) ReleaseOrder(ctx context.Context, orderID string) error {
	_, version, err := v.Store.Get(ctx, usedOrderKey(orderID))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("used-order lookup failed: %w", err)
	}
	if err := v.Store.Put(ctx, usedOrderKey(orderID), []byte(orderReleasedMarker), version); err != nil {
		return fmt.Errorf("release of order %s failed: %w", orderID, err)
	}
	if v.Logger != nil {
		v.Logger.Warn("PAYMENT", fmt.Sprintf("released PayPal order %s for retry", orderID))
	}
	return nil
}

func (v *Verifier) markUsed(ctx context.Context, orderID string, version int64) error {
	err := v.Store.Put(ctx, usedOrderKey(orderID), []byte(time.Now().UTC().Format(time.RFC3339)), version)
	if errors.Is(err, store.ErrVersionConflict) {
		// A concurrent request consumed the same order first.
		return ErrOrderAlreadyUsed
	}
	return err
}
