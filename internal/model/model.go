package model

import "time"

// Role is the permission level attached to a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is a registered account. Passwords are stored and compared as given.
type User struct {
	Username string `json:"username"`
	Password string `json:"-"`
	Role     Role   `json:"role"`
}

// AttendanceRecord is a single daily check-in.
type AttendanceRecord struct {
	ID       string `json:"id,omitempty"` // key generated by the record store
	User     string `json:"user"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	ImageRef string `json:"image_ref,omitempty"` // empty when capture is disabled
}

// SameDay reports whether r and o occupy the same (user, date) slot.
func (r AttendanceRecord) SameDay(o AttendanceRecord) bool {
	return r.User == o.User && r.Date == o.Date
}

// Session is the authenticated identity of one client.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	StartedAt time.Time `json:"started_at"`
}

// Authenticated reports whether a user is set.
func (s Session) Authenticated() bool {
	return s.Username != ""
}

// IsAdmin reports whether the session may use admin operations.
func (s Session) IsAdmin() bool {
	return s.Authenticated() && s.Role == RoleAdmin
}
