package engine

// Symbol trading constraints. Zero values disable a filter.

type SymbolFilters struct {
	PriceTick   float64
	QtyStep     float64
	NotionalMin float64
}

// EnforceFilters rounds price and quantity to the symbol constraints and
// bumps quantity up to the minimum notional when one is set.
func EnforceFilters(f SymbolFilters, price, qty float64) (float64, float64) {
	if f.PriceTick > 0 {
		price = roundStep(price, f.PriceTick)
	}
	if f.QtyStep > 0 {
		qty = roundStep(qty, f.QtyStep)
	}
	if f.NotionalMin > 0 && price*qty < f.NotionalMin {
		qty = f.NotionalMin / maxf(price, 1e-12)
		if f.QtyStep > 0 {
			qty = roundStep(qty, f.QtyStep)
		}
	}
	return price, qty
}

func roundStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := v / step
	return float64(int64(n+0.5)) * step
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
