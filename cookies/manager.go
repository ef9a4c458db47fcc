// Package cookies keeps the session cookies of the transport's cookie jar in
// line with the current account.
package cookies

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-account-manager/accounts"
	"github.com/jrsteele09/go-account-manager/internal/utils"
)

// SessionCookieName is the cookie carrying the access token to instance hosts.
const SessionCookieName = "sid"

// Manager clears and refreshes cookies in a jar. Cookies it issues are set at
// the root path so they can be expired again.
type Manager struct {
	store accounts.Store
	jar   http.CookieJar

	lock   sync.Mutex
	issued map[string]*url.URL
}

// NewManager uses jar, or a fresh in-memory jar when jar is nil.
func NewManager(store accounts.Store, jar http.CookieJar) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[cookies NewManager] store is required")
	}
	if jar == nil {
		var err error
		if jar, err = cookiejar.New(nil); err != nil {
			return nil, fmt.Errorf("[cookies NewManager] jar: %w", err)
		}
	}
	return &Manager{store: store, jar: jar, issued: make(map[string]*url.URL)}, nil
}

// Jar is the jar to hand to HTTP clients.
func (m *Manager) Jar() http.CookieJar {
	return m.jar
}

// ClearCookies expires every cookie for the login host and every session cookie issued so far.
func (m *Manager) ClearCookies(options accounts.LoginOptions) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if u, err := url.Parse(options.LoginURL); err == nil && u.Host != "" {
		m.expire(u)
	}
	for key, u := range m.issued {
		m.expire(u)
		delete(m.issued, key)
	}
}

// RefreshCookies sets the session cookie for the current account's instance and community hosts.
func (m *Manager) RefreshCookies(ctx context.Context) error {
	account, err := m.store.RetrieveCurrent(ctx)
	if err != nil {
		return fmt.Errorf("[cookies RefreshCookies] %w", err)
	}
	if account == nil || account.AccessToken == "" {
		return nil
	}

	expires := TokenExpiry(account.AccessToken)

	m.lock.Lock()
	defer m.lock.Unlock()
	for _, raw := range []string{account.InstanceURL, utils.Value(account.CommunityURL)} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		m.jar.SetCookies(u, []*http.Cookie{{
			Name:     SessionCookieName,
			Value:    account.AccessToken,
			Path:     "/",
			Secure:   u.Scheme == "https",
			HttpOnly: true,
			Expires:  expires,
		}})
		m.issued[u.Scheme+"://"+u.Host] = u
	}
	return nil
}

func (m *Manager) expire(u *url.URL) {
	existing := m.jar.Cookies(u)
	if len(existing) == 0 {
		return
	}
	expired := make([]*http.Cookie, 0, len(existing))
	for _, c := range existing {
		expired = append(expired, &http.Cookie{Name: c.Name, Path: "/", MaxAge: -1})
	}
	m.jar.SetCookies(u, expired)
}

// TokenExpiry returns the exp claim of a JWT access token without verifying it.
// Opaque tokens yield the zero time, which makes a session cookie.
func TokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
