package rulepack

// System category names used by the built-in pack.
const (
	CategoryIncome         = "Income"
	CategoryTransfers      = "Transfers"
	CategoryFees           = "Fees & Charges"
	CategoryCash           = "Cash"
	CategoryCoffee         = "Coffee & Dining"
	CategoryGroceries      = "Groceries"
	CategoryTransportation = "Transportation"
	CategorySubscriptions  = "Subscriptions"
)

// SystemPack returns the built-in rules shipped with the engine. Imported
// rules are tagged with the system origin.
func SystemPack() *Pack {
	return &Pack{
		Name:        "system",
		Description: "Built-in starter rules",
		Rules: []Rule{
			// Income
			{Key: "payroll", Type: "regex", Value: `\b(payroll|direct\s*dep|dir\s*dep|salary|wages)\b`, Category: CategoryIncome, Weight: 0.95},
			{Key: "interest", Type: "regex", Value: `\b(interest|int\s*earned|dividend)\b`, Category: CategoryIncome, Weight: 0.9},
			{Key: "tax-refund", Type: "regex", Value: `\b(tax\s*ref|irs\s*treas)\b`, Category: CategoryIncome, Weight: 0.95},
			{Key: "refund", Type: "regex", Value: `\b(refund|reimb|cash\s*back)\b`, Category: CategoryIncome, Weight: 0.85},

			// Transfers
			{Key: "transfer", Type: "regex", Value: `\b(transfer|xfer|tfr)\b`, Category: CategoryTransfers, Weight: 0.85},
			{Key: "wire", Type: "regex", Value: `\bwire\s*(in|out|transfer)\b`, Category: CategoryTransfers, Weight: 0.9},
			{Key: "card-payment", Type: "regex", Value: `\b(cc|credit\s*card|card)\s*(payment|pmt)\b`, Category: CategoryTransfers, Weight: 0.8},

			// Expenses
			{Key: "atm", Type: "regex", Value: `\b(atm|cash\s*withdrawal)\b`, Category: CategoryCash, Weight: 0.8},
			{Key: "fee", Type: "regex", Value: `\b(fee|service\s*chg|penalty)\b`, Category: CategoryFees, Weight: 0.75},
			{Key: "coffee", Type: "keyword", Value: "coffee", Category: CategoryCoffee, Weight: 0.7},
			{Key: "starbucks", Type: "merchant", Value: "starbucks", Category: CategoryCoffee, Weight: 0.9},
			{Key: "grocery", Type: "keyword", Value: "grocery", Category: CategoryGroceries, Weight: 0.7},
			{Key: "uber", Type: "merchant", Value: "uber", Category: CategoryTransportation, Weight: 0.8},
			{Key: "lyft", Type: "merchant", Value: "lyft", Category: CategoryTransportation, Weight: 0.8},
			{Key: "evening", Type: "time", Value: "evening", Category: CategoryTransportation, Weight: 0.3},
			{Key: "small-charge", Type: "amount_range", Value: "-30.00--1.00", Category: CategorySubscriptions, Weight: 0.2},
			{Key: "autopay", Type: "regex", Value: `\b(autopay|recurring|subscription)\b`, Category: CategorySubscriptions, Weight: 0.6},
		},
		Composites: []Composite{
			{Key: "rideshare", Operator: "OR", Category: CategoryTransportation, Weight: 0.85, Components: []string{"uber", "lyft"}},
			{Key: "evening-ride", Operator: "AND", Category: CategoryTransportation, Weight: 1.5, Components: []string{"rideshare", "evening"}},
			{Key: "small-autopay", Operator: "AND", Category: CategorySubscriptions, Weight: 0.9, Components: []string{"autopay", "small-charge"}},
		},
	}
}
