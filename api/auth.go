package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

// AuthOptions configures token validation. A non-empty HMACSecret switches
// to HS256 shared-secret tokens for local runs and tests; otherwise RS256
// tokens are verified against JWKS.
type AuthOptions struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	HMACSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	opts     AuthOptions
	parser   *jwt.Parser
	keyCache sync.Map
	now      func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(opts AuthOptions) (*Auth, error) {
	a := &Auth{opts: opts, now: time.Now}
	if len(opts.HMACSecret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		return a, nil
	}
	if opts.JWKS == nil {
		return nil, errors.New("auth: jwks not configured")
	}
	if a.opts.KeyCacheTTL < 0 {
		a.opts.KeyCacheTTL = 0
	}
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	return a, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer extracts the user identifier from a raw bearer token.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(readOnlyString(token), a.keyFor)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	// Checked a minute ahead, so tokens stop working one minute before exp.
	now := a.now().Add(time.Minute).Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return "", errors.New("token expired")
	case !claims.VerifyNotBefore(now, false):
		return "", errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(now, false):
		return "", errors.New("token used before issued")
	case a.opts.Audience != "" && !claims.VerifyAudience(a.opts.Audience, false):
		return "", errors.New("invalid audience")
	case a.opts.Issuer != "" && !claims.VerifyIssuer(a.opts.Issuer, false):
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if len(a.opts.HMACSecret) > 0 {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.opts.HMACSecret, nil
	}

	kid, _ := token.Header["kid"].(string)
	ttl := a.opts.KeyCacheTTL
	if kid != "" && ttl > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.opts.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && ttl > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(ttl)})
	}
	return key, nil
}
