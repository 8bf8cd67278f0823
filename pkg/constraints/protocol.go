package constraints

type Action int32

const (
	DELETE Action = 0
	PUT    Action = 1
)

// Access states a flag can have for a user type.
const (
	AccessIncluded = "included"
	AccessOptional = "optional"
	AccessExcluded = "excluded"
)

// Override scopes, listed from highest to lowest priority.
const (
	ScopeUser         = "user"
	ScopeOrganization = "organization"
	ScopeRole         = "role"
)

// Subscription states.
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Analytics event types accepted from clients.
const (
	EventViewed         = "viewed"
	EventUsed           = "used"
	EventUpgradeClicked = "upgrade_clicked"
	EventDismissed      = "dismissed"
)

// MessagePing marks heartbeat messages on the change stream.
const MessagePing = "ping"
