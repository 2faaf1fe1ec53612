package model

// Actor is the caller identity resolved by the authentication layer.  The
// marketplace core treats it as input and never performs credential checks
// itself.
type Actor struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}
