package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/comicshelf/comicshelf/internal/auth"
	domainerrors "github.com/comicshelf/comicshelf/internal/errors"
	"github.com/comicshelf/comicshelf/internal/ratelimit"
	"github.com/comicshelf/comicshelf/internal/store"
)

const (
	// PasscodeSettingKey holds the argon2id hash of the lock passcode.
	PasscodeSettingKey = "lock.passcode_hash"

	// MinPasscodeLength is the shortest passcode ChangePasscode accepts.
	MinPasscodeLength = 4

	unlockKey         = "unlock"
	changePasscodeKey = "change_passcode"
)

// SettingsStore persists string settings. store.ComicRepository satisfies it.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// SessionService is the application lock gate. It starts locked; Unlock
// opens it with the passcode and Lock closes it again. The gate is cosmetic:
// page blobs stay plain files.
type SessionService struct {
	settings        SettingsStore
	defaultPasscode string
	limiter         *ratelimit.KeyedRateLimiter
	logger          *slog.Logger

	mu       sync.RWMutex
	unlocked bool
}

// NewSessionService creates a locked session. defaultPasscode applies until
// a passcode has been stored.
func NewSessionService(settings SettingsStore, defaultPasscode string, limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) *SessionService {
	return &SessionService{
		settings:        settings,
		defaultPasscode: defaultPasscode,
		limiter:         limiter,
		logger:          logger,
	}
}

// IsUnlocked reports whether the gate is open.
func (s *SessionService) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// Lock closes the gate.
func (s *SessionService) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked = false
	s.logger.Info("library locked")
}

// Unlock opens the gate if passcode matches.
func (s *SessionService) Unlock(ctx context.Context, passcode string) error {
	if !s.limiter.Allow(unlockKey) {
		return domainerrors.RateLimited("too many unlock attempts, try again later")
	}

	ok, err := s.verify(ctx, passcode)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("unlock rejected")
		return domainerrors.InvalidCredentials("incorrect passcode")
	}

	s.limiter.Reset(unlockKey)
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()

	s.logger.Info("library unlocked")
	return nil
}

// ChangePasscode replaces the passcode. The current passcode must verify,
// the new one must be at least MinPasscodeLength characters, and confirm
// must repeat it exactly. Checks run in that order.
func (s *SessionService) ChangePasscode(ctx context.Context, current, next, confirm string) error {
	if !s.limiter.Allow(changePasscodeKey) {
		return domainerrors.RateLimited("too many attempts, try again later")
	}

	ok, err := s.verify(ctx, current)
	if err != nil {
		return err
	}
	if !ok {
		return domainerrors.InvalidCredentials("current passcode is incorrect")
	}
	if utf8.RuneCountInString(next) < MinPasscodeLength {
		return domainerrors.Validationf("new passcode must be at least %d characters", MinPasscodeLength)
	}
	if next != confirm {
		return domainerrors.Validation("new passcodes do not match")
	}

	hash, err := auth.HashPasscode(next)
	if err != nil {
		return domainerrors.Validation("invalid passcode").WithCause(err)
	}
	if err := s.settings.SetSetting(ctx, PasscodeSettingKey, hash); err != nil {
		return domainerrors.Storage(err, "save passcode")
	}

	s.limiter.Reset(changePasscodeKey)
	s.logger.Info("passcode changed")
	return nil
}

// verify checks passcode against the stored hash, seeding the store with the
// default passcode on first use.
func (s *SessionService) verify(ctx context.Context, passcode string) (bool, error) {
	hash, err := s.settings.GetSetting(ctx, PasscodeSettingKey)
	if errors.Is(err, store.ErrNotFound) {
		hash, err = s.seedDefault(ctx)
	}
	if err != nil {
		return false, domainerrors.Storage(err, "load passcode")
	}

	ok, err := auth.VerifyPasscode(hash, passcode)
	if err != nil {
		return false, domainerrors.Internal("stored passcode hash is unreadable").WithCause(err)
	}
	return ok, nil
}

func (s *SessionService) seedDefault(ctx context.Context) (string, error) {
	hash, err := auth.HashPasscode(s.defaultPasscode)
	if err != nil {
		return "", err
	}
	if err := s.settings.SetSetting(ctx, PasscodeSettingKey, hash); err != nil {
		return "", err
	}
	s.logger.Info("default passcode initialised")
	return hash, nil
}
