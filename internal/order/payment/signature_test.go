package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
)

var secret = []byte("whsec_test")

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := Sign(secret, now, body)
	assert.NoError(t, Verify(secret, header, body, now, DefaultTolerance))
}

func TestVerifyTamperedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	header := Sign(secret, now, []byte(`{"amount":100}`))
	err := Verify(secret, header, []byte(`{"amount":999}`), now, DefaultTolerance)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	header := Sign([]byte("other-secret"), now, body)
	assert.ErrorIs(t, Verify(secret, header, body, now, DefaultTolerance), ErrBadSignature)
}

func TestVerifyStaleTimestamp(t *testing.T) {
	signedAt := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	header := Sign(secret, signedAt, body)

	err := Verify(secret, header, body, signedAt.Add(6*time.Minute), DefaultTolerance)
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	// Within tolerance, both directions.
	assert.NoError(t, Verify(secret, header, body, signedAt.Add(4*time.Minute), DefaultTolerance))
	assert.NoError(t, Verify(secret, header, body, signedAt.Add(-4*time.Minute), DefaultTolerance))
}

func TestVerifyMalformedHeader(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	for _, header := range []string{"", "t=abc,v1=00", "v1=deadbeef", "t=1700000000", "garbage"} {
		assert.Error(t, Verify(secret, header, body, now, DefaultTolerance), "header %q", header)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	in := domain.NewOrder{
		Customer: domain.CustomerInfo{
			Name: "Ada", Email: "ada@example.com", Phone: "555-0100",
			Address: "1 Farm Lane", City: "Springfield", PostalCode: "12345",
		},
		Items: []domain.LineItem{
			{ProductID: "p1", Name: "Raw Honey", Quantity: 2, UnitPrice: 5},
		},
		Subtotal: 10, Discount: 1, DiscountCode: "HARVEST10", Total: 9,
	}
	m, err := EncodeMetadata(in)
	require.NoError(t, err)

	out, err := DecodeMetadata("cs_123", m)
	require.NoError(t, err)
	in.SessionID = "cs_123"
	assert.Equal(t, in, out)
}

func TestDecodeMetadataRejectsEmptyItems(t *testing.T) {
	m := Metadata{
		"items": "[]", "customer": "{}",
		"subtotal": "0", "discount": "0", "total": "0",
	}
	_, err := DecodeMetadata("cs_x", m)
	assert.ErrorIs(t, err, ErrBadMetadata)

	_, err = DecodeMetadata("cs_x", Metadata{})
	assert.ErrorIs(t, err, ErrBadMetadata)
}
