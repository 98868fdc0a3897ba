package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"raffle-service/internal/logger"
)

// HMACSignature verifies X-Signature / X-Timestamp on mutating routes.
// The signature is hex(HMAC-SHA256(secret, "<timestamp>.<body>")) and
// the timestamp must fall within the skew window. The body is re-buffered
// for downstream handlers.
func HMACSignature(secret string, skew time.Duration, log *logger.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signature := r.Header.Get("X-Signature")
			timestamp := r.Header.Get("X-Timestamp")
			if signature == "" || timestamp == "" {
				if log != nil {
					log.LogSecurity("HMAC", "request missing signature headers")
				}
				http.Error(w, "missing request signature", http.StatusUnauthorized)
				return
			}

			unix, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				http.Error(w, "invalid signature timestamp", http.StatusUnauthorized)
				return
			}
			drift := time.Since(time.Unix(unix, 0))
			if drift < -skew || drift > skew {
				if log != nil {
					log.LogSecurity("HMAC", fmt.Sprintf("signature timestamp outside skew window: %s", drift))
				}
				http.Error(w, "signature timestamp outside allowed window", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "unable to read request body", http.StatusBadRequest)
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, key)
			mac.Write([]byte(timestamp))
			mac.Write([]byte("."))
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(expected), []byte(signature)) {
				if log != nil {
					log.LogSecurity("HMAC", "request signature mismatch")
				}
				http.Error(w, "invalid request signature", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Sign computes the signature for a body at a timestamp. Used by tests
// and client tooling.
func Sign(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
