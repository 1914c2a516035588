package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"payments-portal/internal/domain"
)

// Claims is the JWT payload. Permissions are trusted as issued and are only
// as fresh as the token.
type Claims struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	UserType    string   `json:"userType"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// ErrEmptySecret is returned when tokens are minted or checked without a key.
var ErrEmptySecret = errors.New("token signing secret is empty")

type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(secret string, expiry time.Duration, issuer string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue mints a signed bearer token for actor.
func (i *TokenIssuer) Issue(actor domain.Actor) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, ErrEmptySecret
	}

	now := i.now()
	expiresAt := now.Add(i.expiry)

	perms := make([]string, len(actor.Permissions))
	for k, p := range actor.Permissions {
		perms[k] = string(p)
	}

	claims := Claims{
		UserID:      actor.ID.String(),
		Username:    actor.Username,
		UserType:    string(actor.Kind),
		Role:        actor.Role,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    i.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a bearer token and returns the actor it identifies.
func (i *TokenIssuer) Parse(tokenString string) (domain.Actor, error) {
	if len(i.secret) == 0 {
		return domain.Actor{}, ErrEmptySecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("invalid token subject: %w", err)
	}

	kind := domain.AccountKind(claims.UserType)
	if kind != domain.KindCustomer && kind != domain.KindEmployee {
		return domain.Actor{}, fmt.Errorf("invalid token user type %q", claims.UserType)
	}

	perms := make([]domain.Permission, len(claims.Permissions))
	for k, p := range claims.Permissions {
		perms[k] = domain.Permission(p)
	}

	return domain.Actor{
		ID:          id,
		Username:    claims.Username,
		Kind:        kind,
		Role:        claims.Role,
		Permissions: perms,
	}, nil
}
