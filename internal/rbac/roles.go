package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePeer       = "peer"
	RoleCounselor  = "counselor"
	RoleModerator  = "moderator"
	RoleSuperAdmin = "super_admin"
	RoleCareBot    = "care_bot" // hidden role for internal automation
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleCareBot }

// CallParticipantRoles are the roles allowed to start or answer call sessions.
func CallParticipantRoles() []string {
	return []string{RolePeer, RoleCounselor}
}
