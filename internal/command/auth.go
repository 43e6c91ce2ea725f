package command

import (
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/reiase/probing/internal/proto"
)

// CustomTokenHeader is the named custom header the auth middleware
// accepts in addition to basic and bearer credentials.
const CustomTokenHeader = "X-Probing-Token"

// Authenticator validates session credentials against the configured
// token. It is inactive while the token is empty; the token may be
// updated at runtime through the server's option table.
type Authenticator struct {
	mu       sync.RWMutex
	token    string
	username string
	realm    string

	// publicPrefixes lists paths that bypass authentication. An entry
	// ending in "/" matches as a prefix, any other entry matches
	// exactly, so the root entry "/" never makes every path public.
	publicPrefixes []string
}

// NewAuthenticator builds an Authenticator. An empty token disables
// every check.
func NewAuthenticator(token, username, realm string, publicPrefixes []string) *Authenticator {
	if len(publicPrefixes) == 0 {
		publicPrefixes = []string{"/", "/static/", "/favicon.ico"}
	}
	return &Authenticator{
		token:          token,
		username:       username,
		realm:          realm,
		publicPrefixes: publicPrefixes,
	}
}

// Enabled reports whether authentication is active.
func (a *Authenticator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != ""
}

// SetToken replaces the expected token; setting "" disables auth.
func (a *Authenticator) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

// Token returns the currently configured token.
func (a *Authenticator) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// Realm returns the advertised basic-auth realm.
func (a *Authenticator) Realm() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.realm
}

// Public reports whether path bypasses authentication.
func (a *Authenticator) Public(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.publicPrefixes {
		if strings.HasSuffix(p, "/") && p != "/" {
			if strings.HasPrefix(path, p) {
				return true
			}
		} else if path == p {
			return true
		}
	}
	return false
}

// Verify checks one presented credential set, returning the
// authenticated principal. Both the secret and (for basic credentials)
// the username are compared in constant time.
func (a *Authenticator) Verify(cred proto.HelloRequest) (string, error) {
	a.mu.RLock()
	token, username := a.token, a.username
	a.mu.RUnlock()

	if token == "" {
		return "anonymous", nil
	}

	switch cred.Kind {
	case proto.CredentialNone:
		return "", proto.NewError(proto.ErrAuthRequired, "authentication required (realm %q)", a.Realm())
	case proto.CredentialBasic:
		userOK := constantTimeEq(cred.Username, username)
		secretOK := constantTimeEq(cred.Secret, token)
		if userOK && secretOK {
			return cred.Username, nil
		}
	case proto.CredentialBearer:
		if constantTimeEq(cred.Secret, token) {
			return "bearer", nil
		}
	case proto.CredentialCustomHeader:
		if cred.Header == CustomTokenHeader && constantTimeEq(cred.Secret, token) {
			return "token-header", nil
		}
	}
	return "", proto.NewError(proto.ErrForbidden, "invalid credentials")
}

// constantTimeEq compares two strings without early exit on the first
// mismatched byte. Length is not secret here (both sides are tokens the
// caller already knows the shape of), so a length mismatch may return
// immediately.
func constantTimeEq(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
