package domain

import (
	"fmt"
	"sort"
	"time"
)

// Verification levels
const (
	LevelBasic    = 1
	LevelPhone    = 2
	LevelAdvanced = 3

	// MaxLevel is the highest level a user can complete
	MaxLevel = LevelAdvanced
	// LevelDone is the CurrentLevel value once every level is complete
	LevelDone = MaxLevel + 1

	// MaxHumanityIndex caps the humanity score
	MaxHumanityIndex = 255
	// SBTLevel is the level that makes a user eligible for an SBT
	SBTLevel = LevelPhone
)

// Levels lists all verification levels in order
var Levels = []int{LevelBasic, LevelPhone, LevelAdvanced}

// Attempt is an in-flight verification started against the backend
type Attempt struct {
	Level     int       `json:"level"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	StartedAt time.Time `json:"started_at"`
}

// Expired reports whether the attempt can no longer complete
func (a *Attempt) Expired(now time.Time) bool {
	if a == nil {
		return true
	}
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Mint request statuses
const (
	MintPending   = "pending"
	MintCompleted = "completed"
	MintFailed    = "failed"
)

// MintRequest tracks an SBT mint requested from the backend
type MintRequest struct {
	ID                string    `json:"id"`
	WalletAddress     string    `json:"wallet_address"`
	EstimatedMintTime string    `json:"estimated_mint_time,omitempty"`
	Status            string    `json:"status"`
	SBTAddress        string    `json:"sbt_address,omitempty"`
	TokenID           string    `json:"token_id,omitempty"`
	TxHash            string    `json:"tx_hash,omitempty"`
	RequestedAt       time.Time `json:"requested_at"`
	// IdempotencyKey is sent with every POST for this request
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
}

// Submitted reports whether the backend has accepted the request.
// A pending request without an ID is a reservation still being posted.
func (m *MintRequest) Submitted() bool {
	return m != nil && m.ID != ""
}

// Session holds everything the bot knows about a user between updates
type Session struct {
	UserID    int64  `json:"user_id"`
	Language  string `json:"language,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Source    string `json:"source,omitempty"`

	VerificationLevel      int      `json:"verification_level"`
	CurrentLevel           int      `json:"current_level"`
	HumanityIndex          int      `json:"humanity_index"`
	CompletedLevels        []int    `json:"completed_levels"`
	HasSBT                 bool     `json:"has_sbt"`
	VerificationInProgress bool     `json:"verification_in_progress"`
	CurrentVerification    *Attempt `json:"current_verification,omitempty"`

	Mint *MintRequest `json:"mint,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewSession returns a fresh session with all-zero progress
func NewSession(userID int64, now time.Time) *Session {
	return &Session{
		UserID:          userID,
		CurrentLevel:    LevelBasic,
		CompletedLevels: []int{},
		CreatedAt:       now,
		LastActivity:    now,
	}
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedLevels = append([]int{}, s.CompletedLevels...)
	if s.CurrentVerification != nil {
		a := *s.CurrentVerification
		c.CurrentVerification = &a
	}
	if s.Mint != nil {
		m := *s.Mint
		c.Mint = &m
	}
	return &c
}

// HasCompleted reports whether level is in CompletedLevels
func (s *Session) HasCompleted(level int) bool {
	for _, l := range s.CompletedLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Validate checks the progress invariants of the session
func (s *Session) Validate() error {
	if s == nil {
		return nil
	}

	levels := append([]int{}, s.CompletedLevels...)
	sort.Ints(levels)
	for i, l := range levels {
		if l != i+1 {
			return fmt.Errorf("%w: completed levels %v are not a prefix of 1..%d", ErrCorruptSession, s.CompletedLevels, MaxLevel)
		}
	}
	if s.VerificationLevel != len(levels) {
		return fmt.Errorf("%w: verification level %d does not match %d completed levels", ErrCorruptSession, s.VerificationLevel, len(levels))
	}
	if s.CurrentLevel != s.VerificationLevel+1 {
		return fmt.Errorf("%w: current level %d after verification level %d", ErrCorruptSession, s.CurrentLevel, s.VerificationLevel)
	}
	if s.HumanityIndex < 0 || s.HumanityIndex > MaxHumanityIndex {
		return fmt.Errorf("%w: humanity index %d out of range", ErrCorruptSession, s.HumanityIndex)
	}
	if s.HasSBT && s.VerificationLevel < SBTLevel {
		return fmt.Errorf("%w: sbt flag set at level %d", ErrCorruptSession, s.VerificationLevel)
	}
	if s.VerificationInProgress != (s.CurrentVerification != nil) {
		return fmt.Errorf("%w: in-progress flag disagrees with attempt record", ErrCorruptSession)
	}
	return nil
}

// Patch lists the non-progress fields Upsert may merge into a session.
// Nil fields are left untouched.
type Patch struct {
	Language  *string
	Username  *string
	FirstName *string
	Source    *string
	Mint      *MintRequest
}

// Apply merges the patch into s
func (p Patch) Apply(s *Session) {
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.Username != nil {
		s.Username = *p.Username
	}
	if p.FirstName != nil {
		s.FirstName = *p.FirstName
	}
	if p.Source != nil {
		s.Source = *p.Source
	}
	if p.Mint != nil {
		m := *p.Mint
		s.Mint = &m
	}
}
