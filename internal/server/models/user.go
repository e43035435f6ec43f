package models

// AuthUser is the authenticated caller, resolved from the access token.
type AuthUser struct {
	ID string
}
