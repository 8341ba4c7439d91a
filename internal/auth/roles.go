package auth

// Roles a user can hold. A user may hold several at once.
const (
	RoleAdmin     = "admin"
	RoleTeacher   = "teacher"
	RoleDeptHead  = "dept_head"
	RoleTrackHead = "track_head"
	RoleStudent   = "student"
)

// Roles is the set of roles granted to a user.
type Roles []string

// Has reports whether role is granted.
func (r Roles) Has(role string) bool {
	for _, granted := range r {
		if granted == role {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one of roles is granted.
func (r Roles) HasAny(roles ...string) bool {
	for _, role := range roles {
		if r.Has(role) {
			return true
		}
	}
	return false
}

// Known reports whether role is one this service understands.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleDeptHead, RoleTrackHead, RoleStudent:
		return true
	}
	return false
}
