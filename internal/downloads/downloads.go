package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"raffle-service/internal/ledger/store"
)

var (
	// ErrTokenNotFound means the token was never issued or has been purged.
	ErrTokenNotFound = errors.New("downloads: token not found")
	// ErrLimitReached means the bundle was already downloaded the maximum number of times.
	ErrLimitReached = errors.New("downloads: download limit reached")
	// ErrTokenExpired means the token's validity window has passed.
	ErrTokenExpired = errors.New("downloads: token expired")
)

const redeemAttempts = 5

// Grant is the persisted record behind a download token.
type Grant struct {
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	RedeemsLeft int       `json:"redeems_left"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Limiter issues download tokens and enforces a bounded redeem count
// per token, persisted through the shared store so the limit holds
// across replicas.
type Limiter struct {
	Store      store.Store
	MaxRedeems int
	TokenTTL   time.Duration

	// Now is the clock source; tests replace it.
	Now func() time.Time
}

func NewLimiter(st store.Store, maxRedeems int, tokenTTL time.Duration) *Limiter {
	return &Limiter{
		Store:      st,
		MaxRedeems: maxRedeems,
		TokenTTL:   tokenTTL,
		Now:        time.Now,
	}
}

func grantKey(token string) string {
	return "download:" + token
}

// Issue creates a token granting MaxRedeems downloads of the named file.
func (l *Limiter) Issue(ctx context.Context, fileName, contentType string) (string, error) {
	token := uuid.NewString()
	grant := Grant{
		FileName:    fileName,
		ContentType: contentType,
		RedeemsLeft: l.MaxRedeems,
		ExpiresAt:   l.Now().Add(l.TokenTTL),
	}
	raw, err := json.Marshal(grant)
	if err != nil {
		return "", err
	}
	if err := l.Store.Put(ctx, grantKey(token), raw, 0); err != nil {
		return "", fmt.Errorf("issue download token: %w", err)
	}
	return token, nil
}

// Redeem consumes one download from the token and returns the grant.
// The decrement is a compare-and-swap so two concurrent downloads of a
// token with one redeem left cannot both succeed.
func (l *Limiter) Redeem(ctx context.Context, token string) (*Grant, error) {
	for attempt := 0; attempt < redeemAttempts; attempt++ {
		raw, version, err := l.Store.Get(ctx, grantKey(token))
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		if err != nil {
			return nil, err
		}

		var grant Grant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return nil, ErrTokenNotFound
		}

		if l.Now().After(grant.ExpiresAt) {
			return nil, ErrTokenExpired
		}
		if grant.RedeemsLeft <= 0 {
			return nil, ErrLimitReached
		}

		grant.RedeemsLeft--
		updated, err := json.Marshal(grant)
		if err != nil {
			return nil, err
		}
		err = l.Store.Put(ctx, grantKey(token), updated, version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &grant, nil
	}
	return nil, fmt.Errorf("downloads: redeem contention for token %s", token)
}
