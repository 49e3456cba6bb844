package domain

// Role is the capacity an address acts in.
type Role string

const (
	RoleHost    Role = "HOST"
	RoleGuest   Role = "GUEST"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
	// RoleSystem is the automation actor forcing timed-out transitions.
	RoleSystem Role = "SYSTEM"
)
