package repository

import (
	"context"

	"twingate/internal/domain"
)

// GroupRepository defines group registry operations
type GroupRepository interface {
	// Register creates the group or refreshes its title and counts one interaction
	Register(ctx context.Context, g *domain.Group) (*domain.Group, error)
	Get(ctx context.Context, chatID int64) (*domain.Group, error)
	IncrementReferrals(ctx context.Context, chatID int64) error
}
