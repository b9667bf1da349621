package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook authenticity. The provider signs "<timestamp>.<raw body>" with
// the shared secret and sends the result in the signature header. The raw
// body must be used as received: re-serialized JSON will not verify.

const (
	SignatureHeader  = "Webhook-Signature"
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

func computeSignature(secret []byte, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces the signature header value for a payload.
func Sign(secret []byte, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, payload))
}

// Verify checks a signature header against the raw payload. A request
// that fails here must not be processed in any way.
func Verify(secret []byte, header string, payload []byte, now time.Time, tolerance time.Duration) error {
	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrBadSignature
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrBadSignature
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrStaleTimestamp
	}

	expected := computeSignature(secret, ts, payload)
	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrBadSignature
}
