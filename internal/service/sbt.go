package service

import (
	"context"
	"fmt"
	"time"

	"twingate/internal/backend"
	"twingate/internal/domain"
	"twingate/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// mintReservationTimeout is how long a reservation blocks other mint requests
// before it is treated as abandoned and posted again under the same key
const mintReservationTimeout = 2 * time.Minute

// MintAPI is the part of the backend the SBT service calls
type MintAPI interface {
	RequestSBTMint(ctx context.Context, req backend.MintRequest) (*backend.MintResult, error)
	CheckMintStatus(ctx context.Context, mintRequestID string) (*backend.MintStatusResult, error)
}

// SBTService handles soul-bound token mint requests
type SBTService struct {
	store  session.Store
	api    MintAPI
	logger *zap.Logger
	now    func() time.Time
	newKey func() string
}

// NewSBTService creates a new SBT service
func NewSBTService(store session.Store, api MintAPI, logger *zap.Logger) *SBTService {
	return &SBTService{
		store:  store,
		api:    api,
		logger: logger,
		now:    time.Now,
		newKey: uuid.NewString,
	}
}

// RequestMint asks the backend to mint the user's SBT.
//
// The request is reserved in the session before it is posted, so only one
// tap reaches the backend. A submitted pending request is returned as is and
// a reservation still being posted yields ErrMintInFlight.
func (s *SBTService) RequestMint(ctx context.Context, user User) (*domain.MintRequest, error) {
	now := s.now()
	var (
		reservation *domain.MintRequest
		previous    *domain.MintRequest
		existing    *domain.MintRequest
	)
	_, err := s.store.Update(ctx, user.ID, func(cur *domain.Session) error {
		reservation, previous, existing = nil, nil, nil
		if cur.VerificationLevel < domain.SBTLevel {
			return domain.ErrNotEligible
		}

		key := s.newKey()
		if m := cur.Mint; m != nil {
			switch {
			case m.Status == domain.MintCompleted:
				return domain.ErrAlreadyMinted
			case m.Status == domain.MintPending && m.Submitted():
				c := *m
				existing = &c
				return nil
			case m.Status == domain.MintPending && now.Sub(m.RequestedAt) < mintReservationTimeout:
				return domain.ErrMintInFlight
			case m.Status == domain.MintPending:
				// abandoned reservation; the backend dedupes on its key
				key = m.IdempotencyKey
			default:
				p := *m
				previous = &p
			}
		}

		reservation = &domain.MintRequest{
			Status:         domain.MintPending,
			RequestedAt:    now,
			IdempotencyKey: key,
		}
		r := *reservation
		cur.Mint = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	res, err := s.api.RequestSBTMint(ctx, backend.MintRequest{
		UserID:         user.ID,
		Username:       user.Username,
		IdempotencyKey: reservation.IdempotencyKey,
	})
	if err != nil {
		s.release(ctx, user.ID, reservation.IdempotencyKey, previous)
		return nil, fmt.Errorf("failed to request sbt mint: %w", err)
	}

	updated, err := s.store.Update(ctx, user.ID, func(cur *domain.Session) error {
		m := *reservation
		m.ID = res.MintRequestID
		m.WalletAddress = res.WalletAddress
		m.EstimatedMintTime = res.EstimatedMintTime
		cur.Mint = &m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("SBT mint requested",
		zap.Int64("user_id", user.ID),
		zap.String("mint_request_id", res.MintRequestID))
	return updated.Mint, nil
}

// release drops a reservation whose POST failed, restoring the request it replaced
func (s *SBTService) release(ctx context.Context, userID int64, key string, previous *domain.MintRequest) {
	_, err := s.store.Update(ctx, userID, func(cur *domain.Session) error {
		if cur.Mint != nil && !cur.Mint.Submitted() && cur.Mint.IdempotencyKey == key {
			cur.Mint = previous
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to release mint reservation", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// CheckMint refreshes the status of the user's mint request
func (s *SBTService) CheckMint(ctx context.Context, userID int64) (*domain.MintRequest, error) {
	current, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if current == nil || current.Mint == nil {
		return nil, domain.ErrNoMintRequest
	}
	if current.Mint.Status == domain.MintCompleted || !current.Mint.Submitted() {
		return current.Mint, nil
	}

	var res *backend.MintStatusResult
	err = withReadRetry(ctx, s.logger, "check_mint", func(ctx context.Context) error {
		var err error
		res, err = s.api.CheckMintStatus(ctx, current.Mint.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check mint status: %w", err)
	}

	mint := *current.Mint
	mint.Status = res.Status
	if res.SBTAddress != "" {
		mint.SBTAddress = res.SBTAddress
	}
	if res.TokenID != "" {
		mint.TokenID = res.TokenID
	}
	if res.TxHash != "" {
		mint.TxHash = res.TxHash
	}

	updated, err := s.store.Upsert(ctx, userID, domain.Patch{Mint: &mint})
	if err != nil {
		return nil, err
	}

	if mint.Status != domain.MintPending {
		s.logger.Info("SBT mint finished",
			zap.Int64("user_id", userID),
			zap.String("mint_request_id", mint.ID),
			zap.String("status", mint.Status))
	}
	return updated.Mint, nil
}
