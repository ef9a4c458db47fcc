package cookies_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-account-manager/accounts"
	accountrepofake "github.com/jrsteele09/go-account-manager/accounts/repofake"
	"github.com/jrsteele09/go-account-manager/cookies"
	"github.com/jrsteele09/go-account-manager/internal/utils"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func cookieValue(jar http.CookieJar, u *url.URL, name string) string {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestManager_RefreshAndClear(t *testing.T) {
	ctx := context.Background()
	store := accountrepofake.NewFakeAccountStore()
	m, err := cookies.NewManager(store, nil)
	require.NoError(t, err)

	// nothing current is not an error
	require.NoError(t, m.RefreshCookies(ctx))

	require.NoError(t, store.Persist(ctx, &accounts.Account{
		UserName:     "alice",
		UserID:       "u1",
		LoginURL:     "https://login.example.com",
		InstanceURL:  "https://na1.example.com",
		CommunityURL: utils.Ptr("https://community.example.com"),
		AccessToken:  "opaque-token",
		RefreshToken: "r",
	}))
	require.NoError(t, m.RefreshCookies(ctx))

	instance := mustURL(t, "https://na1.example.com/services")
	community := mustURL(t, "https://community.example.com/")
	login := mustURL(t, "https://login.example.com/")
	require.Equal(t, "opaque-token", cookieValue(m.Jar(), instance, cookies.SessionCookieName))
	require.Equal(t, "opaque-token", cookieValue(m.Jar(), community, cookies.SessionCookieName))

	m.Jar().SetCookies(login, []*http.Cookie{{Name: "login_hint", Value: "alice", Path: "/"}})
	m.ClearCookies(accounts.LoginOptions{LoginURL: "https://login.example.com"})

	require.Empty(t, m.Jar().Cookies(instance))
	require.Empty(t, m.Jar().Cookies(community))
	require.Empty(t, m.Jar().Cookies(login))
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	require.True(t, exp.Equal(cookies.TokenExpiry(signed)))
	require.True(t, cookies.TokenExpiry("00Dx!opaque").IsZero())
}
