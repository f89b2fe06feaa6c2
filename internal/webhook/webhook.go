// Package webhook authenticates payment provider webhook deliveries.
//
// The signature header has the form
//
//	Checkout-Signature: t={timestamp},v1={signature}
//
// where signature = hex(HMAC-SHA256(secret, "{timestamp}.{raw body}")).
// Several v1 entries may be present while a secret is being rotated.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader  = "Checkout-Signature"
	DefaultTolerance = 5 * time.Minute
)

const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired               = "checkout.session.expired"
	EventPaymentIntentSucceeded        = "payment_intent.succeeded"
	EventChargeRefunded                = "charge.refunded"
)

var (
	ErrMissingSecret             = errors.New("webhook signing secret not configured")
	ErrMissingBody               = errors.New("webhook body is empty")
	ErrMissingSignature          = errors.New("webhook signature header missing")
	ErrMalformedHeader           = errors.New("webhook signature header malformed")
	ErrSignatureMismatch         = errors.New("webhook signature mismatch")
	ErrTimestampOutsideTolerance = errors.New("webhook timestamp outside tolerance")
	ErrMalformedEvent            = errors.New("webhook event malformed")
)

// Event is the provider envelope. Data.Object is decoded by the handler for
// the event type.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature over the exact request bytes and decodes the
// event. Any failure means the event must not be processed.
func (v *Verifier) Verify(body []byte, header string) (*Event, error) {
	if strings.TrimSpace(v.secret) == "" {
		return nil, ErrMissingSecret
	}
	if len(body) == 0 {
		return nil, ErrMissingBody
	}
	if strings.TrimSpace(header) == "" {
		return nil, ErrMissingSignature
	}

	timestamp, signatures, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	expected := []byte(ComputeSignature(timestamp, body, v.secret))
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrSignatureMismatch
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, ErrTimestampOutsideTolerance
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	return &evt, nil
}

func parseHeader(header string) (int64, []string, error) {
	var (
		timestamp  int64
		haveTS     bool
		signatures []string
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedHeader
			}
			timestamp = ts
			haveTS = true
		case "v1":
			if value != "" {
				signatures = append(signatures, value)
			}
		}
	}

	if !haveTS || len(signatures) == 0 {
		return 0, nil, ErrMalformedHeader
	}

	return timestamp, signatures, nil
}

// ComputeSignature computes the v1 HMAC-SHA256 signature.
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureValue builds the header value for payload signed at timestamp.
func SignatureValue(payload []byte, secret string, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(timestamp, payload, secret))
}

// Sign returns the signature header for payload, signed now.
func Sign(payload []byte, secret string) map[string]string {
	return map[string]string{
		SignatureHeader: SignatureValue(payload, secret, time.Now().Unix()),
	}
}
