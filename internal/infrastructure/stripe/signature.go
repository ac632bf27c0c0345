// Package stripe verifies webhook signatures on incoming Stripe events.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/finrelay/finrelay/internal/shared/config"
)

const (
	// DefaultTolerance bounds how old a signed payload may be. Stripe
	// recommends five minutes.
	DefaultTolerance = 5 * time.Minute

	signingVersion = "v1"
)

// Verifier checks the Stripe-Signature header against the shared webhook
// secret. The header carries a unix timestamp and one or more HMAC-SHA256
// signatures over "timestamp.payload".
type Verifier struct {
	secret    string
	tolerance time.Duration

	now func() time.Time
}

func NewVerifier(cfg *config.StripeConfig) *Verifier {
	return &Verifier{
		secret:    cfg.WebhookSecret,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// Verify validates header against payload. It returns an error when the
// header is malformed, the timestamp is outside the tolerance, or no
// signature matches.
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	timestamp, signatures, err := parseHeader(header)
	if err != nil {
		return err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance: %s", age)
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}

func parseHeader(header string) (timestamp int64, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid signature timestamp %q", value)
			}
		case signingVersion:
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 {
		return 0, nil, fmt.Errorf("signature header has no timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("signature header has no %s signatures", signingVersion)
	}
	return timestamp, signatures, nil
}

func computeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces a valid Stripe-Signature header for payload. Used by tests
// and local tooling.
func Sign(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,%s=%s", ts, signingVersion, computeSignature(secret, ts, payload))
}
