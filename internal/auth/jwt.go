package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in access tokens.
const (
	RoleAdmin       = "admin"
	RoleESDAdmin    = "esd_admin"
	RoleFacilitator = "facilitator"
	RoleEmployee    = "employee"
	RoleVendor      = "vendor"
)

const purposeCheckIn = "checkin"

// Claims represents the access token payload. The person id is the registered subject;
// the profile fields are optional and, when Email is set, describe the caller's directory
// entry.
type Claims struct {
	Role       string `json:"role"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Company    string `json:"company,omitempty"`
	jwt.RegisteredClaims
}

// CheckInClaims is the payload of a QR check-in token.
type CheckInClaims struct {
	SessionID string `json:"sid"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned for tokens that fail signature, expiry, issuer or purpose
// checks.
var ErrInvalidToken = errors.New("invalid token")

// Signer issues and verifies HS256 tokens.
type Signer struct {
	Key    []byte
	Issuer string
	Now    func() time.Time
}

// NewSigner creates a signer.
func NewSigner(key, issuer string) *Signer {
	return &Signer{Key: []byte(key), Issuer: issuer, Now: time.Now}
}

func (s *Signer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Issue signs an access token for subject.
func (s *Signer) Issue(subject, role string, ttl time.Duration) (string, time.Time, error) {
	return s.IssueClaims(Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, ttl)
}

// IssueClaims signs claims, setting issuer, issue time and expiry.
func (s *Signer) IssueClaims(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims.Issuer = s.Issuer
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	claims.IssuedAt = jwt.NewNumericDate(now)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates an access token and returns its claims.
func (s *Signer) Parse(tokenStr string) (Claims, error) {
	var claims Claims
	if err := s.parse(tokenStr, &claims); err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueCheckIn signs a QR check-in token bound to one session.
func (s *Signer) IssueCheckIn(sessionID string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims := CheckInClaims{
		SessionID: sessionID,
		Purpose:   purposeCheckIn,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// ParseCheckIn validates a check-in token and returns the session it was issued for.
func (s *Signer) ParseCheckIn(tokenStr string) (string, error) {
	var claims CheckInClaims
	if err := s.parse(tokenStr, &claims); err != nil {
		return "", err
	}
	if claims.Purpose != purposeCheckIn || claims.SessionID == "" {
		return "", ErrInvalidToken
	}
	return claims.SessionID, nil
}

func (s *Signer) parse(tokenStr string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.Key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
