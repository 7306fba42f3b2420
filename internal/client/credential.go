package client

import "time"

// TokenSkew is how early an access token is refreshed before its expiry.
const TokenSkew = 90 * time.Second

// Credential is the provider access/refresh token pair. ExpireAt is an
// absolute epoch in milliseconds; RefreshTokenExpiration is the RFC 3339
// timestamp the provider reports for the refresh token.
type Credential struct {
	AccessToken            string `json:"accessToken"`
	ExpireAt               int64  `json:"expireAt"`
	RefreshToken           string `json:"refreshToken"`
	RefreshTokenExpiration string `json:"refreshTokenExpiration"`
}

// ExpiringSoon reports whether the access token is within the skew
// window of its expiry. A credential with no expiry counts as expiring.
func (c *Credential) ExpiringSoon(now time.Time) bool {
	if c == nil || c.ExpireAt == 0 {
		return true
	}
	return now.Add(TokenSkew).UnixMilli() >= c.ExpireAt
}

// RefreshExpired reports whether the refresh token itself is past its
// expiration and can no longer be exchanged.
func (c *Credential) RefreshExpired(now time.Time) bool {
	if c == nil || c.RefreshToken == "" {
		return true
	}
	if c.RefreshTokenExpiration == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, c.RefreshTokenExpiration)
	if err != nil {
		return false
	}
	return !exp.After(now)
}
