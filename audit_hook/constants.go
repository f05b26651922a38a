package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountProvisioned = "account.provisioned"

	// Balance actions
	ActionCredited          = "balance.credited"
	ActionDebited           = "balance.debited"
	ActionConsumed          = "emission.consumed"
	ActionRefunded          = "emission.refunded"
	ActionChargeRejected    = "charge.rejected"
	ActionLowBalanceReached = "balance.low"

	// Administration actions
	ActionSettingsUpdated      = "settings.updated"
	ActionClientPricingUpdated = "client_pricing.updated"
	ActionAdjustmentRecorded   = "adjustment.recorded"
)

// Resource constants for audit events.
const (
	ResourceAccount       = "account"
	ResourceTransaction   = "transaction"
	ResourceSettings      = "settings"
	ResourceClientPricing = "client_pricing"
	ResourceAdjustment    = "adjustment"
)

// Category constants for audit events.
const (
	CategoryAccount = "account"
	CategoryBilling = "billing"
	CategoryAdmin   = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
