package auth

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

var validMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

var (
	errUnknownKey    = errors.New("no key matches token kid")
	errIncompleteIdP = errors.New("idp issuer and audience must both be set")
)

const (
	ReasonMissingBearer    = "missing_bearer"
	ReasonJWKSFetchFailed  = "jwks_fetch_failed"
	ReasonInvalidToken     = "invalid_token"
	ReasonExpired          = "expired"
	ReasonIssuerMismatch   = "issuer_mismatch"
	ReasonAudienceMismatch = "audience_mismatch"
	ReasonUnknownKey       = "unknown_key"
)

// Verify checks token against keys and the tenant's issuer and audience.
// On failure it also returns the reason label used for metrics and audit.
// An idp without issuer or audience rejects every token.
func Verify(token string, keys *KeySet, idp models.IdP, leeway time.Duration) (jwt.MapClaims, string, error) {
	if idp.Issuer == "" || idp.Audience == "" {
		return nil, ReasonInvalidToken, errIncompleteIdP
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(idp.Issuer),
		jwt.WithAudience(idp.Audience),
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyFunc(keys), opts...)
	if err != nil {
		return nil, reasonFor(err), err
	}
	return claims, "", nil
}

func keyFunc(keys *KeySet) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" {
			k, ok := keys.Lookup(kid)
			if !ok {
				return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
			}
			return k, nil
		}

		var set jwt.VerificationKeySet
		for _, k := range keys.All() {
			if compatible(t.Method, k) {
				set.Keys = append(set.Keys, k)
			}
		}
		if len(set.Keys) == 0 {
			return nil, fmt.Errorf("%w: no %s key in set", errUnknownKey, t.Method.Alg())
		}
		return set, nil
	}
}

func compatible(m jwt.SigningMethod, key any) bool {
	switch m.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		_, ok := key.(*rsa.PublicKey)
		return ok
	case *jwt.SigningMethodECDSA:
		_, ok := key.(*ecdsa.PublicKey)
		return ok
	case *jwt.SigningMethodEd25519:
		_, ok := key.(ed25519.PublicKey)
		return ok
	}
	return false
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, errUnknownKey):
		return ReasonUnknownKey
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudienceMismatch
	default:
		return ReasonInvalidToken
	}
}
