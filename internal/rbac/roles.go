package rbac

import "voice-relay/internal/auth"

// Role names. Keep these stable; they are embedded in issued tokens.
const (
	RoleClient = auth.RoleClient
	RoleAdmin  = auth.RoleAdmin
)

func IsAdmin(role string) bool { return role == RoleAdmin }
