// Package token verifies the RS256 tokens issued by the file service. The
// verification key is fetched from a remote endpoint and refreshed in the
// background; see Refresher.
package token

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoKey        = errors.New("verification key not loaded")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token has expired")
	ErrWrongPurpose = errors.New("wrong type of token provided")
)

// Identity is the verified caller. Login tokens carry a Username; link
// tokens grant access to one file and carry Name and Path instead.
type Identity struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Path     string `json:"fspath,omitempty"`
	Link     bool   `json:"-"`
}

// Subject is the name rate limits and logs use for the identity.
func (id *Identity) Subject() string {
	if id.Link {
		return "link:" + id.Path
	}
	return id.Username
}

// KeyHolder holds the current verification key.
type KeyHolder struct {
	key atomic.Pointer[rsa.PublicKey]
}

func (h *KeyHolder) Load() *rsa.PublicKey { return h.key.Load() }

func (h *KeyHolder) Store(k *rsa.PublicKey) { h.key.Store(k) }

type Verifier struct {
	keys         *KeyHolder
	audience     string
	linkAudience string
}

func NewVerifier(keys *KeyHolder, audience, linkAudience string) *Verifier {
	return &Verifier{keys: keys, audience: audience, linkAudience: linkAudience}
}

// VerifyLogin checks a token presented in the request header.
func (v *Verifier) VerifyLogin(raw string) (*Identity, error) {
	id, err := v.verify(raw, v.audience)
	if err != nil {
		return nil, err
	}
	if id.Username == "" {
		return nil, fmt.Errorf("%w: subject has no username", ErrInvalidToken)
	}
	return id, nil
}

// VerifyLink checks a short-lived token passed as a URL parameter, used
// where a custom header cannot be sent.
func (v *Verifier) VerifyLink(raw string) (*Identity, error) {
	id, err := v.verify(raw, v.linkAudience)
	if err != nil {
		return nil, err
	}
	id.Link = true
	return id, nil
}

func (v *Verifier) verify(raw, audience string) (*Identity, error) {
	key := v.keys.Load()
	if key == nil {
		return nil, ErrNoKey
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != audience {
		return nil, ErrWrongPurpose
	}

	var id Identity
	if err := json.Unmarshal([]byte(claims.Subject), &id); err != nil {
		return nil, fmt.Errorf("%w: subject: %w", ErrInvalidToken, err)
	}
	return &id, nil
}
