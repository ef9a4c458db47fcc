package manager_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jrsteele09/go-account-manager/accounts"
	accountrepofake "github.com/jrsteele09/go-account-manager/accounts/repofake"
	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"github.com/jrsteele09/go-account-manager/internal/metrics"
	"github.com/jrsteele09/go-account-manager/internal/utils"
	"github.com/jrsteele09/go-account-manager/manager"
	"github.com/jrsteele09/go-account-manager/manager/managerfakes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// testFixture holds all test dependencies
type testFixture struct {
	store    *accountrepofake.FakeAccountStore
	events   *managerfakes.Events
	verifier *managerfakes.Verifier
	cookies  *managerfakes.Cookies
	clients  *managerfakes.Clients
	metrics  *metrics.Metrics
	service  *manager.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store := accountrepofake.NewFakeAccountStore()
	events := &managerfakes.Events{}
	verifier := &managerfakes.Verifier{
		Events:   events,
		Response: &accounts.IdentityResponse{UserID: "u1", UserName: "alice", MobilePolicy: &accounts.MobilePolicy{PinLength: 4}},
	}
	cookies := &managerfakes.Cookies{Events: events}
	clients := &managerfakes.Clients{Store: store}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	service, err := manager.New(manager.Deps{
		Store:    &managerfakes.RecordingStore{Store: store, Events: events},
		Verifier: verifier,
		Session:  &managerfakes.Session{Events: events},
		Login:    &managerfakes.Login{Events: events},
		Cookies:  cookies,
		Clients:  clients,
	}, manager.WithMetrics(m))
	require.NoError(t, err)

	return &testFixture{
		store:    store,
		events:   events,
		verifier: verifier,
		cookies:  cookies,
		clients:  clients,
		metrics:  m,
		service:  service,
	}
}

func loginOptions() accounts.LoginOptions {
	return accounts.LoginOptions{
		LoginURL:    "https://login.example.com",
		ClientID:    "client-1",
		CallbackURL: "app://callback",
		Scopes:      []string{"api", "refresh_token"},
	}
}

func authResponse(suffix string) accounts.AuthResponse {
	return accounts.AuthResponse{
		InstanceURL:  "https://na1.example.com",
		IdentityURL:  "https://login.example.com/id/" + suffix,
		AccessToken:  "access-" + suffix,
		RefreshToken: "refresh-" + suffix,
	}
}

// seed persists a verified account directly in the store.
func (f *testFixture) seed(t *testing.T, userName, userID string) *accounts.Account {
	t.Helper()
	a := accounts.NewAccount(loginOptions(), authResponse(userID))
	a.UserName, a.UserID = userName, userID
	require.NoError(t, f.store.Persist(context.Background(), a))
	return a
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := manager.New(manager.Deps{})
	require.ErrorContains(t, err, "Store is required")
}

func TestGetCurrentAccount_EmptyStore(t *testing.T) {
	f := setupTestFixture(t)

	current, err := f.service.GetCurrentAccount(context.Background())
	require.NoError(t, err)
	require.Nil(t, current)

	all, err := f.service.GetAllAccounts(context.Background())
	require.NoError(t, err)
	require.NotNil(t, all)
	require.Empty(t, all)
}

func TestGetCurrentAccount_Idempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, "alice", "u1")
	ctx := context.Background()

	first, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	second, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Empty(t, f.events.List(), "reads have no side effects")
}

func TestGetAllAccounts(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, "alice", "u1")
	f.seed(t, "bob", "u2")

	all, err := f.service.GetAllAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "access-u2", all["bob:u2"].AccessToken)
}

func TestCreateAccount_VerifiedIsPersistedAndCurrent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	auth := authResponse("x")
	auth.CommunityID = utils.Ptr("comm-1")

	account, err := f.service.CreateAccount(ctx, loginOptions(), auth)
	require.NoError(t, err)
	require.Equal(t, "u1", account.UserID)
	require.Equal(t, "alice", account.UserName)
	require.Equal(t, 4, account.Policy.PinLength)
	require.Equal(t, "comm-1", utils.Value(account.CommunityID))

	require.Equal(t, []managerfakes.VerifyCall{{IdentityURL: auth.IdentityURL, AccessToken: auth.AccessToken}}, f.verifier.Calls())
	require.Equal(t, []string{"verify", "store.persist:alice:u1"}, f.events.List())

	current, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, account, current)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationCounter("create", metrics.ResultOK)))
}

func TestCreateAccount_VerificationFailureIsIsolated(t *testing.T) {
	f := setupTestFixture(t)
	f.verifier.Err = apperrors.ErrMalformedResponse
	auth := authResponse("x")

	account, err := f.service.CreateAccount(context.Background(), loginOptions(), auth)
	require.NoError(t, err)
	require.Equal(t, auth.AccessToken, account.AccessToken)
	require.Equal(t, auth.RefreshToken, account.RefreshToken)
	require.Empty(t, account.UserID)
	require.Empty(t, account.UserName)
	require.Nil(t, account.Policy)

	require.Empty(t, f.store.Writes())
	current, err := f.service.GetCurrentAccount(context.Background())
	require.NoError(t, err)
	require.Nil(t, current)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.VerificationFailureCounter("create")))
}

func TestCreateAccount_StorageFailurePropagates(t *testing.T) {
	f := setupTestFixture(t)
	f.store.FailWith(errDiskFull)

	account, err := f.service.CreateAccount(context.Background(), loginOptions(), authResponse("x"))
	require.ErrorIs(t, err, apperrors.ErrStorageFailure)
	require.ErrorIs(t, err, errDiskFull)
	require.NotNil(t, account)
}

func TestSwitchToAccount_Preconditions(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	switched, err := f.service.SwitchToAccount(ctx, nil)
	require.NoError(t, err)
	require.False(t, switched)

	unverified := accounts.NewAccount(loginOptions(), authResponse("x"))
	switched, err = f.service.SwitchToAccount(ctx, unverified)
	require.NoError(t, err)
	require.False(t, switched)

	noTokens := &accounts.Account{UserID: "u9", UserName: "eve"}
	switched, err = f.service.SwitchToAccount(ctx, noTokens)
	require.NoError(t, err)
	require.False(t, switched)

	noRefresh := accounts.NewAccount(loginOptions(), authResponse("u9"))
	noRefresh.UserID, noRefresh.UserName, noRefresh.RefreshToken = "u9", "eve", ""
	switched, err = f.service.SwitchToAccount(ctx, noRefresh)
	require.NoError(t, err)
	require.False(t, switched)

	require.Empty(t, f.store.Writes())
	require.Empty(t, f.events.List())
}

func TestSwitchToAccount_Scenario(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.seed(t, "bob", "u2")
	f.seed(t, "alice", "u1") // A current
	f.verifier.Response = &accounts.IdentityResponse{UserID: "u2", UserName: "bob", MobilePolicy: &accounts.MobilePolicy{ScreenLockTimeout: 5}}

	all, err := f.service.GetAllAccounts(ctx)
	require.NoError(t, err)
	b := all["bob:u2"]

	switched, err := f.service.SwitchToAccount(ctx, b)
	require.NoError(t, err)
	require.True(t, switched)

	current, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, "u2", current.UserID)
	require.Equal(t, "bob", current.UserName)
	require.Equal(t, 5, current.Policy.ScreenLockTimeout)
	require.Equal(t, "bob:u2", f.store.CurrentKey())

	require.Equal(t, []string{
		"session.reset-timer",
		"store.persist:bob:u2",
		"cookies.clear:https://login.example.com",
		"verify",
		"store.persist:bob:u2",
		"cookies.refresh",
	}, f.events.List())
}

func TestSwitchToAccount_PersistsBeforeVerify(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	b := f.seed(t, "bob", "u2")
	f.seed(t, "alice", "u1")
	f.verifier.Err = errors.New("network unreachable")

	switched, err := f.service.SwitchToAccount(ctx, b)
	require.NoError(t, err)
	require.True(t, switched)

	current, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, b, current)
	require.Equal(t, []string{
		"session.reset-timer",
		"store.persist:bob:u2",
		"cookies.clear:https://login.example.com",
		"verify",
		"cookies.refresh",
	}, f.events.List())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.VerificationFailureCounter("switch")))
}

func TestSwitchToAccount_IdentityChangeReplacesRecord(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	b := f.seed(t, "bob", "u2")
	f.verifier.Response = &accounts.IdentityResponse{UserID: "u2", UserName: "robert"}

	switched, err := f.service.SwitchToAccount(ctx, b)
	require.NoError(t, err)
	require.True(t, switched)
	require.Equal(t, "robert", b.UserName, "caller's account is updated in place")

	all, err := f.service.GetAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Contains(t, all, "robert:u2")
	require.Equal(t, "robert:u2", f.store.CurrentKey())
}

// deleteFailingStore fails every Delete and passes everything else through.
type deleteFailingStore struct {
	*accountrepofake.FakeAccountStore
}

func (s deleteFailingStore) Delete(context.Context, string, string) error {
	return apperrors.Storagef(errDiskFull, "[deleteFailingStore Delete]")
}

func TestSwitchToAccount_StaleRecordDeleteFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := accountrepofake.NewFakeAccountStore()
	events := &managerfakes.Events{}
	service, err := manager.New(manager.Deps{
		Store: deleteFailingStore{store},
		Verifier: &managerfakes.Verifier{
			Events:   events,
			Response: &accounts.IdentityResponse{UserID: "u2", UserName: "robert"},
		},
		Session: &managerfakes.Session{Events: events},
		Login:   &managerfakes.Login{Events: events},
		Cookies: &managerfakes.Cookies{Events: events},
		Clients: &managerfakes.Clients{Store: store},
	})
	require.NoError(t, err)

	b := accounts.NewAccount(loginOptions(), authResponse("u2"))
	b.UserName, b.UserID = "bob", "u2"
	require.NoError(t, store.Persist(ctx, b))

	switched, err := service.SwitchToAccount(ctx, b)
	require.NoError(t, err)
	require.True(t, switched)
	require.Equal(t, "robert", b.UserName)
	require.Equal(t, "robert:u2", store.CurrentKey())

	all, err := store.RetrieveAll(ctx)
	require.NoError(t, err)
	require.Contains(t, all, "bob:u2", "stale record is left behind")
	require.Contains(t, all, "robert:u2")
	require.Contains(t, events.List(), "cookies.refresh")
}

func TestSwitchToAccount_NoClient(t *testing.T) {
	f := setupTestFixture(t)
	f.clients.NoClient = true
	b := f.seed(t, "bob", "u2")

	switched, err := f.service.SwitchToAccount(context.Background(), b)
	require.NoError(t, err)
	require.False(t, switched)
	require.Equal(t, []string{"session.reset-timer", "store.persist:bob:u2"}, f.events.List())
	require.Equal(t, "bob:u2", f.store.CurrentKey())
}

func TestSwitchToAccount_StorageFailureStops(t *testing.T) {
	f := setupTestFixture(t)
	b := f.seed(t, "bob", "u2")
	f.store.FailWith(errDiskFull)

	switched, err := f.service.SwitchToAccount(context.Background(), b)
	require.ErrorIs(t, err, apperrors.ErrStorageFailure)
	require.False(t, switched)
	require.NotContains(t, f.events.List(), "verify")
}

func TestSwitchToAccount_CookieRefreshFailureIsIgnored(t *testing.T) {
	f := setupTestFixture(t)
	f.cookies.RefreshErr = errors.New("jar closed")
	b := f.seed(t, "bob", "u2")
	f.verifier.Response = &accounts.IdentityResponse{UserID: "u2", UserName: "bob"}

	switched, err := f.service.SwitchToAccount(context.Background(), b)
	require.NoError(t, err)
	require.True(t, switched)
}

func TestDeleteAccount(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.seed(t, "alice", "u1")
	f.seed(t, "bob", "u2")

	require.NoError(t, f.service.DeleteAccount(ctx))

	current, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	require.Nil(t, current)
	all, err := f.service.GetAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Contains(t, all, "alice:u1")
	require.Equal(t, []string{"store.delete:bob:u2"}, f.events.List())
}

func TestDeleteAccount_NoCurrentIsCallerError(t *testing.T) {
	f := setupTestFixture(t)

	err := f.service.DeleteAccount(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoCurrentAccount)
	require.Empty(t, f.store.Writes())
}

func TestWipeAllAccounts_Ordering(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.seed(t, "alice", "u1")
	f.seed(t, "bob", "u2")

	require.NoError(t, f.service.WipeAllAccounts(ctx))

	all, err := f.service.GetAllAccounts(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Equal(t, []string{"store.delete-all", "session.wipe", "login.start"}, f.events.List())
}

func TestWipeAllAccounts_StorageFailureStopsBeforePinWipe(t *testing.T) {
	f := setupTestFixture(t)
	f.store.FailWith(errDiskFull)

	err := f.service.WipeAllAccounts(context.Background())
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, []string{"store.delete-all"}, f.events.List())
}

func TestSwitchToDefaultFlow(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, "alice", "u1")

	f.service.SwitchToDefaultFlow()

	require.Equal(t, []string{"login.start"}, f.events.List())
	require.Equal(t, "alice:u1", f.store.CurrentKey())
}

func TestAtMostOneCurrent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	a, err := f.service.CreateAccount(ctx, loginOptions(), authResponse("a"))
	require.NoError(t, err)
	f.verifier.Response = &accounts.IdentityResponse{UserID: "u2", UserName: "bob"}
	b, err := f.service.CreateAccount(ctx, loginOptions(), authResponse("b"))
	require.NoError(t, err)

	f.verifier.Response = &accounts.IdentityResponse{UserID: "u1", UserName: "alice"}
	_, err = f.service.SwitchToAccount(ctx, a)
	require.NoError(t, err)
	require.Equal(t, a.Key(), f.store.CurrentKey())

	f.verifier.Response = &accounts.IdentityResponse{UserID: "u2", UserName: "bob"}
	_, err = f.service.SwitchToAccount(ctx, b)
	require.NoError(t, err)
	require.Equal(t, b.Key(), f.store.CurrentKey())

	require.NoError(t, f.service.DeleteAccount(ctx))
	require.Empty(t, f.store.CurrentKey())

	require.NoError(t, f.service.WipeAllAccounts(ctx))
	require.Empty(t, f.store.CurrentKey())
}

func TestConcurrentSwitchAndDelete(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	f.verifier.ByToken = map[string]*accounts.IdentityResponse{}
	for i := 0; i < 8; i++ {
		userName, userID := fmt.Sprintf("user%d", i), fmt.Sprintf("u%d", i)
		f.seed(t, userName, userID)
		f.verifier.ByToken["access-"+userID] = &accounts.IdentityResponse{UserID: userID, UserName: userName}
	}
	all, err := f.service.GetAllAccounts(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, len(all)+4)
	for _, account := range all {
		wg.Add(1)
		go func(a *accounts.Account) {
			defer wg.Done()
			if _, err := f.service.SwitchToAccount(ctx, a); err != nil {
				errs <- err
			}
		}(account)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.service.DeleteAccount(ctx); err != nil && !apperrors.Is(err, apperrors.ErrNoCurrentAccount) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := f.service.GetAllAccounts(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, len(final), 8)
	for key, a := range final {
		require.Equal(t, key, a.Key())
		require.True(t, a.Verified())
		require.True(t, a.HasTokens())
	}

	current, err := f.service.GetCurrentAccount(ctx)
	require.NoError(t, err)
	if current == nil {
		require.Empty(t, f.store.CurrentKey())
		return
	}
	require.Equal(t, current.Key(), f.store.CurrentKey())
	require.Equal(t, final[current.Key()], current)
}
