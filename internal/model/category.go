package model

// Category is one entry of the static lookup tables. The display name and
// icon are copied onto a transaction at write time.
type Category struct {
	ID   string
	Name string
	Icon string
}

// CategoryResolver maps a category id and kind to its display data. The sync
// engine receives one by injection so the service layer never reaches into
// the lookup tables directly.
type CategoryResolver func(categoryID string, kind Kind) (Category, bool)

// ExpenseCategories is the built-in expense lookup table.
var ExpenseCategories = []Category{
	{ID: "rent", Name: "Rent / Accommodation", Icon: "🏠"},
	{ID: "food", Name: "Food & Groceries", Icon: "🍔"},
	{ID: "travel", Name: "Travel & Transport", Icon: "🚗"},
	{ID: "mobile", Name: "Mobile & Internet", Icon: "📱"},
	{ID: "utilities", Name: "Utilities", Icon: "💡"},
	{ID: "health", Name: "Health & Medical", Icon: "🏥"},
	{ID: "shopping", Name: "Shopping (Personal Needs)", Icon: "🛒"},
	{ID: "entertainment", Name: "Entertainment / Subscriptions", Icon: "🎬"},
	{ID: "education", Name: "Education / Courses", Icon: "📚"},
	{ID: "gifts", Name: "Gifts & Donations", Icon: "🎁"},
	{ID: "emergency", Name: "Unexpected / Emergency", Icon: "⚠️"},
	{ID: "savings", Name: "Savings / Investments", Icon: "💰"},
	{ID: "cash", Name: "Cash Withdrawals", Icon: "💳"},
	{ID: "miscellaneous", Name: "Miscellaneous / Others", Icon: "📦"},
}

// IncomeCategories is the built-in income lookup table.
var IncomeCategories = []Category{
	{ID: "internship", Name: "Internship Stipend", Icon: "💼"},
	{ID: "freelance", Name: "Part-Time / Freelancing", Icon: "💻"},
	{ID: "scholarship", Name: "Scholarship / Grants", Icon: "🎓"},
	{ID: "family", Name: "Family Support / Allowance", Icon: "👨‍👩‍👧‍👦"},
	{ID: "referral", Name: "Referral / Cashback", Icon: "🔄"},
	{ID: "interest", Name: "Interest / Investments", Icon: "📈"},
	{ID: "resale", Name: "Resale Income", Icon: "🔄"},
	{ID: "others", Name: "Others / Unexpected", Icon: "💡"},
}

// LookupCategory is the default CategoryResolver over the built-in tables.
// Unknown ids return a placeholder with ok=false.
func LookupCategory(categoryID string, kind Kind) (Category, bool) {
	table := ExpenseCategories
	if kind == KindIncome {
		table = IncomeCategories
	}
	for _, c := range table {
		if c.ID == categoryID {
			return c, true
		}
	}
	return Category{ID: categoryID, Name: "Unknown", Icon: "❓"}, false
}
