package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"twingate/internal/backend"
	"twingate/internal/domain"
	"twingate/internal/session"

	"go.uber.org/zap"
)

// DefaultVerificationTTL is used when the backend does not say when a link expires
const DefaultVerificationTTL = 30 * time.Minute

// VerificationResult is what a finished level reports back
type VerificationResult struct {
	HumanityIndex int
}

// CanStart reports whether level may be started now.
// An expired in-flight attempt does not block a new one.
func CanStart(s *domain.Session, level int, now time.Time) bool {
	if s == nil {
		return level == domain.LevelBasic
	}
	if level < domain.LevelBasic || level > domain.MaxLevel {
		return false
	}
	if level != s.CurrentLevel || s.HasCompleted(level) {
		return false
	}
	if s.VerificationInProgress && !s.CurrentVerification.Expired(now) {
		return false
	}
	return true
}

// StartLevel records attempt as the user's in-flight verification
func StartLevel(s *domain.Session, level int, attempt domain.Attempt, now time.Time) error {
	if !CanStart(s, level, now) {
		return &domain.OutOfOrderError{Level: level, Current: s.CurrentLevel}
	}
	attempt.Level = level
	s.VerificationInProgress = true
	s.CurrentVerification = &attempt
	return nil
}

// CompleteLevel marks level as passed. Only the current level can complete.
func CompleteLevel(s *domain.Session, level int, result VerificationResult) error {
	if level < domain.LevelBasic || level > domain.MaxLevel || level != s.CurrentLevel {
		return &domain.OutOfOrderError{Level: level, Current: s.CurrentLevel}
	}

	s.CompletedLevels = append(s.CompletedLevels, level)
	s.VerificationLevel = level
	s.CurrentLevel = level + 1

	index := result.HumanityIndex
	if index > domain.MaxHumanityIndex {
		index = domain.MaxHumanityIndex
	}
	if index > s.HumanityIndex {
		s.HumanityIndex = index
	}
	if level >= domain.SBTLevel {
		s.HasSBT = true
	}

	s.VerificationInProgress = false
	s.CurrentVerification = nil
	return nil
}

// FailLevel drops the in-flight attempt for level so it can be retried
func FailLevel(s *domain.Session, level int) error {
	if s.CurrentVerification == nil || s.CurrentVerification.Level != level {
		return domain.ErrNoActiveVerification
	}
	s.VerificationInProgress = false
	s.CurrentVerification = nil
	return nil
}

// NextLevel returns the next level the user can attempt, false once all are done
func NextLevel(s *domain.Session) (int, bool) {
	if s == nil {
		return domain.LevelBasic, true
	}
	if s.CurrentLevel > domain.MaxLevel {
		return 0, false
	}
	return s.CurrentLevel, true
}

// VerificationAPI is the part of the backend the progress service calls
type VerificationAPI interface {
	StartVerification(ctx context.Context, req backend.StartRequest) (*backend.StartResult, error)
	CheckVerificationStatus(ctx context.Context, token string) (*backend.CheckResult, error)
}

// User identifies the Telegram user acting on their progress
type User struct {
	ID       int64
	Username string
}

// CheckOutcome is the result of polling a running verification
type CheckOutcome struct {
	Level   int
	Status  string
	Session *domain.Session
	// AlreadyDone is set when the level had completed before this check
	AlreadyDone bool
}

// ProgressService drives level verification against the backend
type ProgressService struct {
	store  session.Store
	api    VerificationAPI
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewProgressService creates a new progress service
func NewProgressService(store session.Store, api VerificationAPI, logger *zap.Logger, ttl time.Duration) *ProgressService {
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	return &ProgressService{
		store:  store,
		api:    api,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// StartVerification asks the backend for a link for level and records the attempt.
// A live attempt for the same level is returned as is.
func (p *ProgressService) StartVerification(ctx context.Context, user User, level int) (*domain.Session, error) {
	now := p.now()

	current, err := p.store.Get(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if current == nil {
		current = domain.NewSession(user.ID, now)
	}
	if hasLiveAttempt(current, level, now) {
		return current, nil
	}
	if !CanStart(current, level, now) {
		return nil, &domain.OutOfOrderError{Level: level, Current: current.CurrentLevel}
	}

	res, err := p.api.StartVerification(ctx, backend.StartRequest{
		UserID:   user.ID,
		Username: user.Username,
		Level:    level,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start level %d verification: %w", level, err)
	}

	attempt := domain.Attempt{
		Level:     level,
		Token:     res.Token,
		URL:       res.VerificationURL,
		ExpiresAt: res.ExpiresAt,
		StartedAt: now,
	}
	if attempt.ExpiresAt.IsZero() {
		attempt.ExpiresAt = now.Add(p.ttl)
	}

	// the gate is checked again under the store lock; a racing tap loses here
	updated, err := p.store.Update(ctx, user.ID, func(s *domain.Session) error {
		if hasLiveAttempt(s, level, now) {
			return nil
		}
		return StartLevel(s, level, attempt, now)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Verification started",
		zap.Int64("user_id", user.ID),
		zap.Int("level", level),
		zap.Time("expires_at", attempt.ExpiresAt))
	return updated, nil
}

// CheckVerification polls the backend for the user's running attempt on level
func (p *ProgressService) CheckVerification(ctx context.Context, userID int64, level int) (*CheckOutcome, error) {
	now := p.now()

	current, err := p.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if current != nil && current.HasCompleted(level) {
		return &CheckOutcome{Level: level, Status: backend.StatusCompleted, Session: current, AlreadyDone: true}, nil
	}
	if current == nil || current.CurrentVerification == nil || current.CurrentVerification.Level != level {
		return nil, domain.ErrNoActiveVerification
	}
	if current.CurrentVerification.Expired(now) {
		if _, err := p.store.Update(ctx, userID, func(s *domain.Session) error {
			return FailLevel(s, level)
		}); err != nil && !errors.Is(err, domain.ErrNoActiveVerification) {
			return nil, err
		}
		return nil, domain.ErrNoActiveVerification
	}

	token := current.CurrentVerification.Token
	var res *backend.CheckResult
	err = withReadRetry(ctx, p.logger, "check_verification", func(ctx context.Context) error {
		var err error
		res, err = p.api.CheckVerificationStatus(ctx, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check level %d verification: %w", level, err)
	}

	outcome := &CheckOutcome{Level: level, Status: res.Status, Session: current}
	switch res.Status {
	case backend.StatusCompleted:
		result := VerificationResult{}
		if res.HumanityIndex != nil {
			result.HumanityIndex = *res.HumanityIndex
		}
		updated, err := p.store.Update(ctx, userID, func(s *domain.Session) error {
			if s.HasCompleted(level) {
				outcome.AlreadyDone = true
				return nil
			}
			return CompleteLevel(s, level, result)
		})
		if err != nil {
			return nil, err
		}
		outcome.Session = updated
		p.logger.Info("Verification level completed",
			zap.Int64("user_id", userID),
			zap.Int("level", level),
			zap.Int("humanity_index", updated.HumanityIndex))

	case backend.StatusFailed:
		updated, err := p.store.Update(ctx, userID, func(s *domain.Session) error {
			return FailLevel(s, level)
		})
		if err != nil && !errors.Is(err, domain.ErrNoActiveVerification) {
			return nil, err
		}
		if updated != nil {
			outcome.Session = updated
		}
		p.logger.Info("Verification level failed",
			zap.Int64("user_id", userID),
			zap.Int("level", level))
	}

	return outcome, nil
}

// Reset deletes the user's session and all progress in it
func (p *ProgressService) Reset(ctx context.Context, userID int64) (bool, error) {
	existed, err := p.store.Delete(ctx, userID)
	if err != nil {
		return false, err
	}
	p.logger.Info("Session reset", zap.Int64("user_id", userID), zap.Bool("existed", existed))
	return existed, nil
}

func hasLiveAttempt(s *domain.Session, level int, now time.Time) bool {
	return s.VerificationInProgress &&
		s.CurrentVerification != nil &&
		s.CurrentVerification.Level == level &&
		!s.CurrentVerification.Expired(now)
}
