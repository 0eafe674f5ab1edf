package testutil

import (
	"time"

	"twingate/internal/domain"

	"go.uber.org/zap"
)

// NewTestLogger creates a no-op logger for tests
func NewTestLogger() *zap.Logger {
	return zap.NewNop()
}

// NewTestSession creates a session with language set and the first n levels completed
func NewTestSession(userID int64, completed int, now time.Time) *domain.Session {
	s := domain.NewSession(userID, now)
	s.Language = "en-US"
	for level := 1; level <= completed; level++ {
		s.CompletedLevels = append(s.CompletedLevels, level)
	}
	s.VerificationLevel = completed
	s.CurrentLevel = completed + 1
	if completed > 0 {
		s.HumanityIndex = completed * 60
	}
	s.HasSBT = completed >= domain.SBTLevel
	return s
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}

// StrPtr returns a pointer to v
func StrPtr(v string) *string {
	return &v
}
