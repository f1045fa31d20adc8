package domain

// Pricing constants, in minor currency units (paise).
const (
	// TaxRateBasisPoints is the flat GST rate applied to every order subtotal.
	TaxRateBasisPoints = 1800
	// FreeShippingThreshold is the subtotal above which shipping is free.
	FreeShippingThreshold int64 = 500000
	// FlatShippingCost is charged when the subtotal does not clear the threshold.
	FlatShippingCost int64 = 20000
)

// TaxFor computes the flat-rate tax on a subtotal, rounding half up.
func TaxFor(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	return (subtotal*TaxRateBasisPoints + 5000) / 10000
}

// ShippingFor computes the shipping cost for a subtotal. Shipping is free
// strictly above the threshold.
func ShippingFor(subtotal int64) int64 {
	if subtotal > FreeShippingThreshold {
		return 0
	}
	return FlatShippingCost
}

// ComputeTotals derives the full monetary breakdown for an order subtotal.
// The result satisfies Total = Subtotal + Tax + Shipping - Discount.
func ComputeTotals(subtotal, discount int64) OrderTotals {
	tax := TaxFor(subtotal)
	shipping := ShippingFor(subtotal)
	return OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal + tax + shipping - discount,
	}
}
