package service

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"admin-auth/internal/client"
	"admin-auth/internal/config"
	"admin-auth/internal/hashing"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	redisstore "admin-auth/internal/repository/redis"
	"admin-auth/internal/repository/sqlite"
	"admin-auth/internal/repository/storetest"
	"admin-auth/internal/util"
)

const (
	testPassword = "correct horse battery"
	testEmail    = "ops@example.com"
)

var (
	testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testMeta  = models.ClientMeta{IPAddress: "203.0.113.7", UserAgent: "test-agent"}

	codePattern  = regexp.MustCompile(`<strong>(\d+)</strong>`)
	resetPattern = regexp.MustCompile(`token=([0-9a-f]+)`)
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recordingSender keeps every message and fails with err when set.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{To: to, Subject: subject, Body: body})
	return r.err
}

func (r *recordingSender) Close() error { return nil }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) last(t *testing.T) sentMail {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sent, "no mail was sent")
	return r.sent[len(r.sent)-1]
}

func (r *recordingSender) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *eventRecorder) Record(ev models.SecurityEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) has(eventType models.SecurityEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	svc    *AuthService
	store  repository.CredentialStore
	clock  *util.FakeClock
	mail   *recordingSender
	events *eventRecorder
}

func testPolicy() config.SecurityConfig {
	return config.SecurityConfig{
		LockoutThreshold:    5,
		LockoutDuration:     15 * time.Minute,
		SessionTTL:          24 * time.Hour,
		TwoFactorCodeTTL:    10 * time.Minute,
		TwoFactorCodeDigits: 6,
		ResetTokenTTL:       time.Hour,
		OperationTimeout:    5 * time.Second,
		SweepInterval:       time.Minute,
		TokenSecret:         "test-token-secret-with-enough-bytes",
		PublicBaseURL:       "https://admin.example.com",
		ResetPath:           "/reset-password",
		RevokeOnChange:      true,
	}
}

func testHasher() *hashing.Hasher {
	return hashing.NewHasher(&config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost:  8 * 1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	}})
}

func newSQLiteStore(t *testing.T) repository.CredentialStore {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRedisStore(t *testing.T) repository.CredentialStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := redisstore.NewStore(client.WrapRedisClient(rdb, "test"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// eachStore runs fn once per credential store backend that needs no
// external server.
func eachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	backends := []struct {
		name string
		open func(*testing.T) repository.CredentialStore
	}{
		{"sqlite", newSQLiteStore},
		{"redis", newRedisStore},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newHarnessWithStore(t, b.open(t)))
		})
	}
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, newSQLiteStore(t))
}

func newHarnessWithStore(t *testing.T, store repository.CredentialStore) *harness {
	t.Helper()
	h := &harness{
		store:  store,
		clock:  util.NewFakeClock(testStart),
		mail:   &recordingSender{},
		events: &eventRecorder{},
	}
	svc, err := NewAuthService(testPolicy(), Dependencies{
		Store:    store,
		Hasher:   testHasher(),
		Sender:   h.mail,
		Recorder: h.events,
		Clock:    h.clock,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	h.svc = svc
	return h
}

// createAccount provisions an active account with testPassword.
func (h *harness) createAccount(t *testing.T, email string, twoFactor bool) *models.AdminAccount {
	t.Helper()
	hash, err := h.svc.deps.hasher.HashPassword(testPassword)
	require.NoError(t, err)

	a := storetest.NewAccount(email, h.clock.Now())
	a.PasswordHash = hash
	a.TwoFactorEnabled = twoFactor
	require.NoError(t, h.store.CreateAccount(context.Background(), a))
	return a
}

func (h *harness) reload(t *testing.T, id string) *models.AdminAccount {
	t.Helper()
	a, err := h.store.GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) login(t *testing.T, email, password string) *LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), email, password, testMeta)
	require.NoError(t, err)
	return res
}

func (h *harness) lastCode(t *testing.T) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(h.mail.last(t).Body)
	require.Len(t, m, 2, "no code in mail body")
	return m[1]
}

func (h *harness) lastResetToken(t *testing.T) string {
	t.Helper()
	m := resetPattern.FindStringSubmatch(h.mail.last(t).Body)
	require.Len(t, m, 2, "no reset link in mail body")
	return m[1]
}

// failingStore fails the named operations with errUnavailable.
type failingStore struct {
	repository.CredentialStore
	failEmailLookup bool
	failCreate      bool
}

var errUnavailable = errors.New("connection refused")

func (s *failingStore) GetAccountByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	if s.failEmailLookup {
		return nil, errUnavailable
	}
	return s.CredentialStore.GetAccountByEmail(ctx, email)
}

func (s *failingStore) CreateSession(ctx context.Context, session *models.Session) error {
	if s.failCreate {
		return errUnavailable
	}
	return s.CredentialStore.CreateSession(ctx, session)
}
