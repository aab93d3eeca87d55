package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleAdmin can manage everything, including usage credits.
	RoleAdmin = "admin"
	// RoleOperator runs campaigns: start/pause/stop, agent edits.
	RoleOperator = "operator"
	// RoleViewer gets read-only access to campaign status and call logs.
	RoleViewer = "viewer"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
