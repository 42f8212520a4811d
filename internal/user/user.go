// Package user holds the account profiles that uploads are attributed to.
// Authentication itself happens elsewhere; this service only trusts the
// bearer token claims and keeps the profile row current.
package user

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	AvatarKey *string   `json:"avatarKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
