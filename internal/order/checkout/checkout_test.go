package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/farmshop-orders-go/internal/order/domain"
)

func items(qtyPrice ...int64) []domain.LineItem {
	var out []domain.LineItem
	for i := 0; i+1 < len(qtyPrice); i += 2 {
		out = append(out, domain.LineItem{
			ProductID: domain.ProductID("p"),
			Quantity:  int32(qtyPrice[i]),
			UnitPrice: qtyPrice[i+1],
		})
	}
	return out
}

func TestSubtotal(t *testing.T) {
	assert.Equal(t, int64(10), Subtotal(items(2, 5)))
	assert.Equal(t, int64(2*5+3*700), Subtotal(items(2, 5, 3, 700)))
	assert.Equal(t, int64(0), Subtotal(nil))
}

func TestPriceNoDiscount(t *testing.T) {
	q, err := Price(items(2, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), q.Subtotal)
	assert.Equal(t, int64(0), q.Discount)
	assert.Equal(t, int64(10), q.Total)
}

func TestPricePercentageDiscount(t *testing.T) {
	d := domain.Discount{Code: "HARVEST10", Kind: domain.DiscountPercentage, Value: 10, Active: true}
	q, err := Price(items(2, 5), &d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Discount)
	assert.Equal(t, int64(9), q.Total)
	assert.Equal(t, "HARVEST10", q.DiscountCode)
}

func TestPercentageRoundsDown(t *testing.T) {
	d := domain.Discount{Kind: domain.DiscountPercentage, Value: 33, Active: true}
	amount, err := DiscountAmount(d, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(33), amount)

	amount, err = DiscountAmount(d, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), amount)
}

func TestFixedDiscountCappedAtSubtotal(t *testing.T) {
	d := domain.Discount{Kind: domain.DiscountFixed, Value: 500, Active: true}
	amount, err := DiscountAmount(d, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), amount)

	q, err := Price(items(2, 60), &d)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.Total, "total never goes negative")
}

func TestDiscountBelowMinPurchase(t *testing.T) {
	d := domain.Discount{Kind: domain.DiscountFixed, Value: 100, MinPurchase: 5000, Active: true}
	_, err := DiscountAmount(d, 4999)
	assert.ErrorIs(t, err, ErrBelowMinPurchase)

	// Exactly at the threshold qualifies.
	amount, err := DiscountAmount(d, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)
}

func TestInactiveDiscountRejected(t *testing.T) {
	d := domain.Discount{Kind: domain.DiscountPercentage, Value: 10, Active: false}
	_, err := DiscountAmount(d, 1000)
	assert.ErrorIs(t, err, ErrDiscountInactive)
}

func TestPriceEmptyCart(t *testing.T) {
	_, err := Price(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestValidateCart(t *testing.T) {
	assert.ErrorIs(t, ValidateCart(nil), ErrEmptyCart)

	err := ValidateCart([]CartItem{{ProductID: "p1", Quantity: 0}})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "cart_items[0].quantity", fe.Field)

	err = ValidateCart([]CartItem{{ProductID: "p1", Quantity: 1}, {ProductID: " ", Quantity: 2}})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "cart_items[1].product_id", fe.Field)

	assert.NoError(t, ValidateCart([]CartItem{{ProductID: "p1", Quantity: 3}}))
}

func TestValidateCustomer(t *testing.T) {
	valid := domain.CustomerInfo{
		Name: "Ada", Email: "ada@example.com", Phone: "555-0100",
		Address: "1 Farm Lane", City: "Springfield", PostalCode: "12345",
	}
	assert.NoError(t, ValidateCustomer(valid))

	missingEmail := valid
	missingEmail.Email = "  "
	err := ValidateCustomer(missingEmail)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "customer_info.email", fe.Field)
}

func TestGrandTotalProperty(t *testing.T) {
	// subtotal - discount == total, discount in [0, subtotal]
	carts := [][]domain.LineItem{
		items(1, 1),
		items(2, 5, 3, 700, 1, 19999),
		items(10, 99),
	}
	discounts := []*domain.Discount{
		nil,
		{Kind: domain.DiscountPercentage, Value: 10, Active: true},
		{Kind: domain.DiscountPercentage, Value: 100, Active: true},
		{Kind: domain.DiscountFixed, Value: 1, Active: true},
		{Kind: domain.DiscountFixed, Value: 1 << 40, Active: true},
	}
	for _, cart := range carts {
		for _, d := range discounts {
			q, err := Price(cart, d)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, q.Discount, int64(0))
			assert.LessOrEqual(t, q.Discount, q.Subtotal)
			assert.Equal(t, q.Subtotal-q.Discount, q.Total)
		}
	}
}
