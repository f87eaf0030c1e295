package rbac

type Role string
type Action string

// RoleUser is the only authority granted to authenticated callers.
const RoleUser Role = "user"

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionMigrate Action = "migrate"
	ActionExport  Action = "export"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleUser:
		return action == ActionRead || action == ActionWrite || action == ActionMigrate || action == ActionExport
	default:
		return false
	}
}

// Normalize maps unknown role names to the empty role, which can do nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser:
		return RoleUser
	default:
		return ""
	}
}
