package contracts

// BudgetWindow is one spending window (daily or monthly).
type BudgetWindow struct {
	LimitCents     int64  `json:"limit_cents"`
	SpentCents     int64  `json:"spent_cents"`
	RemainingCents int64  `json:"remaining_cents"`
	ResetsAt       string `json:"resets_at"`
}

// VelocityWindow reports short-window spend velocity.
type VelocityWindow struct {
	WindowMaxCents       int64  `json:"window_max_cents"`
	WindowSpentCents     int64  `json:"window_spent_cents"`
	WindowRemainingCents int64  `json:"window_remaining_cents"`
	WindowResetsInSecs   int64  `json:"window_resets_in_seconds"`
	WindowSeconds        int64  `json:"window_seconds,omitempty"`
	Note                 string `json:"note,omitempty"`
}

// TimeWindow describes when spending is allowed.
type TimeWindow struct {
	AllowedDays       []string          `json:"allowed_days"`
	AllowedHoursLocal map[string]string `json:"allowed_hours_local"`
	CurrentlyOpen     bool              `json:"currently_open"`
	NextOpenAt        string            `json:"next_open_at,omitempty"`
}

// BudgetView is the answer to a budget query.
type BudgetView struct {
	Currency               string          `json:"currency"`
	Status                 string          `json:"status"`
	SpendAllowed           bool            `json:"spend_allowed"`
	EnforcementMode        string          `json:"enforcement_mode"`
	Daily                  BudgetWindow    `json:"daily"`
	Monthly                BudgetWindow    `json:"monthly"`
	PerTransactionMaxCents *int64          `json:"per_transaction_max_cents,omitempty"`
	Velocity               *VelocityWindow `json:"velocity,omitempty"`
	AllowedVendors         []string        `json:"allowed_vendors"` // null: any vendor; []: none
	AllowedCategories      []string        `json:"allowed_categories,omitempty"`
	TimeWindow             *TimeWindow     `json:"time_window,omitempty"`
	Simulated              bool            `json:"simulated,omitempty"`
}

// Mandate status values reported in budget views.
const (
	StatusActive    = "active"
	StatusExhausted = "exhausted"
)
