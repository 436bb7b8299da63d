package core

// TotalSpent sums the spent amount over every allocation.
func (b Budget) TotalSpent() Money {
	var total Money
	for _, c := range b.Categories {
		total = total.Add(c.Spent)
	}
	return total
}

// Progress returns min(100, 100 * spent / total). A zero total yields 0.
func (b Budget) Progress() float64 {
	if b.TotalAmount.Cents <= 0 {
		return 0
	}
	spent := b.TotalSpent()
	if spent.Cents <= 0 {
		return 0
	}
	pct := float64(spent.Cents) * 100 / float64(b.TotalAmount.Cents)
	if pct > 100 {
		return 100
	}
	return pct
}

// Alerts returns the allocations whose spent amount exceeds the allocation.
func (b Budget) Alerts() []CategoryAllocation {
	var out []CategoryAllocation
	for _, c := range b.Categories {
		if c.Allocated.Less(c.Spent) {
			out = append(out, c)
		}
	}
	return out
}
