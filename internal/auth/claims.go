package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are carried by the token issued after a successful verification.
// Subject is the session ID.
type Claims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phone_number"`
	AppID       string `json:"app_id,omitempty"`
}
