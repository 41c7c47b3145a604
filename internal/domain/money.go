package domain

import "fmt"

// USD is a dollar amount. Per-call costs are fractions of a cent, so the
// value is kept as a float and only rounded for display.
type USD float64

// String formats the amount with four decimals (e.g., 0.01234 → "$0.0123").
func (u USD) String() string { return fmt.Sprintf("$%.4f", float64(u)) }

// IsZero returns true if the amount is zero.
func (u USD) IsZero() bool { return u == 0 }

// Add returns the sum of two amounts.
func (u USD) Add(x USD) USD { return u + x }
