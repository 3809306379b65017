package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the capability axis the front-end cares about. The API has spelled
// it admin/user, ADMIN/USER and approver/user over time; all of them collapse
// into these two values.
type Role string

const (
	RolePrivileged Role = "privileged"
	RoleStandard   Role = "standard"
)

// ParseRole maps any server role label onto a Role.
func ParseRole(label string) Role {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "admin", "approver", "privileged":
		return RolePrivileged
	default:
		return RoleStandard
	}
}

// Privileged reports whether the role may approve or reject documents.
func (r Role) Privileged() bool {
	return r == RolePrivileged
}

// User is the read-only copy of the signed-in account returned by the API.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	RoleLabel string    `json:"role_label"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type wireUser struct {
	ID        string    `json:"id"`
	MongoID   string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UnmarshalJSON accepts both id and _id, and any role spelling.
func (u *User) UnmarshalJSON(data []byte) error {
	var w wireUser
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*u = User{
		ID:        firstNonEmpty(w.ID, w.MongoID),
		Name:      w.Name,
		Email:     w.Email,
		Role:      ParseRole(w.Role),
		RoleLabel: w.Role,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	return nil
}

// DisplayRole is the label shown next to the user in the navigation bar.
func (u *User) DisplayRole() string {
	if u.RoleLabel != "" {
		return strings.ToLower(u.RoleLabel)
	}
	return string(u.Role)
}

// Initial is the avatar letter for the navigation bar.
func (u *User) Initial() string {
	if u == nil || u.Email == "" {
		return "U"
	}
	return strings.ToUpper(u.Email[:1])
}

// Actor identifies who created a document or performed a history action.
// The API sends either a bare user id or an embedded user object.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (a *Actor) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*a = Actor{ID: id}
		return nil
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*a = Actor{ID: u.ID, Email: u.Email, Name: u.Name}
	return nil
}

// String prefers the email, then the name, then the raw id.
func (a Actor) String() string {
	return firstNonEmpty(a.Email, a.Name, a.ID)
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the payload returned by a successful login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
