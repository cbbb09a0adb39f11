package service

import (
	"sync"

	"admin-auth/internal/audit"
	"admin-auth/internal/config"
	"admin-auth/internal/mailer"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg      *config.Config
	store    repository.CredentialStore
	hasher   PasswordHasher
	sender   mailer.Sender
	recorder audit.Recorder
	clock    util.Clock

	mu          sync.Mutex
	authService *AuthService
	sweeper     *Sweeper
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	cfg *config.Config,
	store repository.CredentialStore,
	hasher PasswordHasher,
	sender mailer.Sender,
	recorder audit.Recorder,
	clock util.Clock,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:      cfg,
		store:    store,
		hasher:   hasher,
		sender:   sender,
		recorder: recorder,
		clock:    clock,
	}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() (*AuthService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.authService == nil {
		svc, err := NewAuthService(f.cfg.Security, Dependencies{
			Store:    f.store,
			Hasher:   f.hasher,
			Sender:   f.sender,
			Recorder: f.recorder,
			Clock:    f.clock,
		})
		if err != nil {
			return nil, err
		}
		f.authService = svc
	}
	return f.authService, nil
}

// Sweeper returns the expiry sweeper (singleton)
func (f *ServiceFactory) Sweeper() *Sweeper {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sweeper == nil {
		clock := f.clock
		if clock == nil {
			clock = util.SystemClock{}
		}
		f.sweeper = NewSweeper(f.store, clock, f.cfg.Security.SweepInterval)
	}
	return f.sweeper
}

// Cleanup stops the sweeper and waits for in-flight reset mails
func (f *ServiceFactory) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sweeper != nil {
		f.sweeper.Stop()
	}
	if f.authService != nil {
		f.authService.Close()
	}
}
