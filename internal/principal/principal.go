// Package principal defines the authenticated identity type every
// request in the enforcement pipeline is attributed to, and verifies
// bearer tokens presented at the HTTP boundary.
//
// Principals carry a three-tier RBAC role alongside group/team tags and
// an MFA-verified flag. Tokens are externally-verifiable JWTs
// (golang-jwt/jwt/v5) signed by whatever identity provider (LDAP, SAML,
// OIDC) a deployment fronts SARK with — this package only verifies the
// signature and decodes the claims into a Principal.
package principal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is one of the three RBAC tiers a Principal may carry.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Principal is the identity a request is attributed to. It is created on
// first successful authentication and never mutated in the core
// enforcement flow.
type Principal struct {
	ID            string
	Email         string
	Roles         []Role
	Groups        []string
	MFAVerified   bool
	SourceProvider string
}

// HasRole reports whether p carries role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (p Principal) IsAdmin() bool { return p.HasRole(RoleAdmin) }

// HasPermission checks RBAC by role tier against a fixed action
// vocabulary.
func (p Principal) HasPermission(action string) bool {
	if p.IsAdmin() {
		return true
	}
	if p.HasRole(RoleOperator) {
		return action != "config.change" && action != "token.issue"
	}
	if p.HasRole(RoleAgent) {
		return action == "tool:invoke" || action == "policy:evaluate"
	}
	return false
}

type contextKey struct{}

// WithContext returns a context carrying p, retrievable with FromContext.
func WithContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the Principal stored by WithContext.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// claims is the JWT payload shape sark expects from its issuer.
type claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Groups      []string `json:"groups"`
	MFAVerified bool     `json:"mfa_verified"`
	Provider    string   `json:"provider"`
}

// ErrInvalidToken is returned for any malformed, expired, or
// signature-mismatched bearer token.
var ErrInvalidToken = errors.New("principal: invalid token")

// Verifier validates bearer tokens and materializes a Principal via a
// shared HMAC secret (SARK_JWT_SECRET). Only HS256/HS384/HS512 tokens are
// accepted; tokens signed with asymmetric (RSA/EC) keys are rejected.
type Verifier struct {
	keyFunc jwt.Keyfunc
	issuer  string
	leeway  time.Duration
}

// NewHMACVerifier builds a Verifier that checks tokens signed with a
// shared secret, the simplest deployment mode.
func NewHMACVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{
		keyFunc: func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("principal: unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		},
		issuer: issuer,
		leeway: 5 * time.Second,
	}
}

// Verify parses and validates a bearer token string, returning the
// Principal it encodes.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}

	roles := make([]Role, 0, len(c.Roles))
	for _, r := range c.Roles {
		roles = append(roles, Role(r))
	}

	return Principal{
		ID:             c.Subject,
		Email:          c.Email,
		Roles:          roles,
		Groups:         c.Groups,
		MFAVerified:    c.MFAVerified,
		SourceProvider: c.Provider,
	}, nil
}

// Issue mints a signed token for p, used by `sark token issue` and tests;
// production deployments typically delegate issuance to the upstream
// OIDC/SAML provider instead.
func (v *Verifier) Issue(secret []byte, p Principal, ttl time.Duration) (string, error) {
	roles := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roles[i] = string(r)
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:       p.Email,
		Roles:       roles,
		Groups:      p.Groups,
		MFAVerified: p.MFAVerified,
		Provider:    p.SourceProvider,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(secret)
}
