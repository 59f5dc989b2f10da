// Package auth authenticates callers and carries the acting employee through
// request contexts.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-pr-approvals/internal/errors"
	"github.com/pesio-ai/be-pr-approvals/internal/repository"
)

// Header names understood by the HTTP and gRPC transports. gRPC metadata
// keys are the lower-cased forms.
const (
	HeaderAuthorization = "Authorization"
	HeaderEmployeeCode  = "X-Employee-Code"
	HeaderEmployeeRoles = "X-Employee-Roles"
)

const issuer = "be-pr-approvals"

var (
	ErrMissingCredentials = errors.New(errors.ErrCodeUnauthorized, "missing credentials")
	ErrInvalidToken       = errors.New(errors.ErrCodeUnauthorized, "invalid token")
)

// Claims is the JWT payload. Subject is the employee code.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens. With dev headers enabled and no
// secret configured it trusts X-Employee-Code / X-Employee-Roles instead.
type Authenticator struct {
	secret          []byte
	allowDevHeaders bool
	now             func() time.Time
}

// NewAuthenticator creates an Authenticator. Dev headers are only honoured
// when secret is empty.
func NewAuthenticator(secret string, allowDevHeaders bool) *Authenticator {
	return &Authenticator{
		secret:          []byte(secret),
		allowDevHeaders: allowDevHeaders && secret == "",
		now:             time.Now,
	}
}

// DevMode reports whether header-based identities are accepted.
func (a *Authenticator) DevMode() bool { return a.allowDevHeaders }

// Issue signs a token for an employee.
func (a *Authenticator) Issue(code string, roles []repository.Role, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New(errors.ErrCodeInternal, "no signing secret configured")
	}
	now := a.now()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	claims := Claims{
		Roles: names,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   code,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a signed token into an Actor.
func (a *Authenticator) Verify(token string) (repository.Actor, error) {
	if len(a.secret) == 0 {
		return repository.Actor{}, errors.New(errors.ErrCodeUnauthorized, "token verification is not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return repository.Actor{}, errors.Wrap(err, errors.ErrCodeUnauthorized, ErrInvalidToken.Message)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return repository.Actor{}, errors.New(errors.ErrCodeUnauthorized, "token has no subject")
	}
	return repository.Actor{Code: claims.Subject, Roles: ParseRoles(strings.Join(claims.Roles, ","))}, nil
}

// Authenticate resolves the caller from an Authorization header value and
// the dev identity headers.
func (a *Authenticator) Authenticate(authorization, devCode, devRoles string) (repository.Actor, error) {
	if token, ok := bearer(authorization); ok {
		return a.Verify(token)
	}
	if a.allowDevHeaders && strings.TrimSpace(devCode) != "" {
		return repository.Actor{Code: strings.TrimSpace(devCode), Roles: ParseRoles(devRoles)}, nil
	}
	return repository.Actor{}, ErrMissingCredentials
}

func bearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// ParseRoles splits a comma separated role list, upper-casing and dropping
// unknown names.
func ParseRoles(v string) []repository.Role {
	var out []repository.Role
	for _, part := range strings.Split(v, ",") {
		r := repository.Role(strings.ToUpper(strings.TrimSpace(part)))
		if repository.KnownRoles[r] && !repository.HasRole(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// ── Context ──────────────────────────────────────────────────────────────────

type actorKey struct{}

// WithActor stores the acting employee in ctx.
func WithActor(ctx context.Context, actor repository.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting employee stored by WithActor.
func ActorFrom(ctx context.Context) (repository.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(repository.Actor)
	return actor, ok && actor.Code != ""
}

// RequireActor is ActorFrom returning an UNAUTHORIZED error when absent.
func RequireActor(ctx context.Context) (repository.Actor, error) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return repository.Actor{}, ErrMissingCredentials
	}
	return actor, nil
}
