package service

import (
	"context"
	"errors"

	"admin-auth/internal/audit"
	"admin-auth/internal/config"
	"admin-auth/internal/mailer"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/token"
	"admin-auth/internal/util"
)

// Dependencies are the collaborators of AuthService. Recorder and Clock may
// be left nil.
type Dependencies struct {
	Store    repository.CredentialStore
	Hasher   PasswordHasher
	Sender   mailer.Sender
	Recorder audit.Recorder
	Clock    util.Clock
}

// AuthService is the entry point of the admin credential and session
// lifecycle used by the HTTP layer.
type AuthService struct {
	deps      *deps
	lockout   *Lockout
	auth      *Authenticator
	twoFactor *TwoFactorManager
	sessions  *SessionManager
	passwords *PasswordManager
}

func NewAuthService(policy config.SecurityConfig, d Dependencies) (*AuthService, error) {
	if d.Store == nil || d.Hasher == nil || d.Sender == nil {
		return nil, errors.New("auth service requires a store, a password hasher and a mail sender")
	}
	if d.Recorder == nil {
		d.Recorder = audit.Discard
	}
	if d.Clock == nil {
		d.Clock = util.SystemClock{}
	}

	secret := policy.TokenSecret
	if secret == "" {
		ephemeral, err := token.NewSessionToken()
		if err != nil {
			return nil, err
		}
		secret = ephemeral
		util.Warn("TOKEN_HASH_SECRET is not set; using an ephemeral secret, sessions will not survive a restart")
	}

	shared := &deps{
		store:    d.Store,
		hasher:   d.Hasher,
		tokens:   token.NewHasher(secret),
		clock:    d.Clock,
		recorder: d.Recorder,
		policy:   policy,
	}
	s := &AuthService{
		deps:      shared,
		lockout:   &Lockout{deps: shared},
		twoFactor: &TwoFactorManager{deps: shared, sender: d.Sender},
		sessions:  &SessionManager{deps: shared},
		passwords: &PasswordManager{deps: shared, sender: d.Sender},
	}
	s.auth = &Authenticator{
		deps:      shared,
		lockout:   s.lockout,
		twoFactor: s.twoFactor,
		sessions:  s.sessions,
	}
	return s, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string, meta models.ClientMeta) (*LoginResult, error) {
	return s.auth.Authenticate(ctx, email, password, meta)
}

// VerifyTwoFactor redeems the challenge handed out by Login together with the
// emailed code.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, challenge, code string, meta models.ClientMeta) (*LoginResult, error) {
	accountID, err := s.deps.tokens.OpenChallenge(challenge, s.deps.clock.Now())
	if err != nil {
		return nil, ErrTwoFactorRequired
	}
	return s.auth.VerifyTwoFactor(ctx, accountID, code, meta)
}

// CurrentAccount validates a session token and returns its account.
func (s *AuthService) CurrentAccount(ctx context.Context, sessionToken string) (*models.AdminAccount, *models.Session, error) {
	return s.sessions.ValidateSession(ctx, sessionToken)
}

func (s *AuthService) Logout(ctx context.Context, sessionToken string, meta models.ClientMeta) error {
	account, _, err := s.sessions.ValidateSession(ctx, sessionToken)
	if err != nil && !errors.Is(err, ErrInvalidSession) {
		return err
	}
	if err := s.sessions.DestroySession(ctx, sessionToken); err != nil {
		return err
	}
	if account != nil {
		s.deps.record(models.EventSessionRevoked, account, meta, true, "")
	}
	return nil
}

// LogoutEverywhere deletes every session of the account, including the
// caller's.
func (s *AuthService) LogoutEverywhere(ctx context.Context, account *models.AdminAccount, meta models.ClientMeta) (int, error) {
	n, err := s.sessions.DestroyAllSessions(ctx, account.ID)
	if err != nil {
		return 0, err
	}
	s.deps.record(models.EventSessionsRevokedAll, account, meta, true, "")
	return n, nil
}

// RequestPasswordReset always succeeds from the caller's point of view.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta models.ClientMeta) {
	s.passwords.RequestReset(ctx, email, meta)
}

func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string, meta models.ClientMeta) error {
	_, err := s.passwords.RedeemReset(ctx, resetToken, newPassword, meta)
	return err
}

// ChangePassword keeps the session identified by sessionToken alive.
func (s *AuthService) ChangePassword(ctx context.Context, account *models.AdminAccount, sessionToken, current, newPassword string, meta models.ClientMeta) (int, error) {
	return s.passwords.ChangePassword(ctx, account.ID, current, newPassword, sessionToken, meta)
}

// Close waits for reset mails still in flight.
func (s *AuthService) Close() {
	s.passwords.Wait()
}
