package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"twingate/internal/domain"
)

const groupColumns = `chat_id, title, username, chat_type, registered_by, interactions, referrals, created_at, updated_at`

// GroupRepo implements repository.GroupRepository
type GroupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a new group repository
func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// Register inserts the group or refreshes its details, counting one interaction
func (r *GroupRepo) Register(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	query := `
		INSERT INTO groups (chat_id, title, username, chat_type, registered_by, interactions)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (chat_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			chat_type = EXCLUDED.chat_type,
			interactions = groups.interactions + 1,
			updated_at = NOW()
		RETURNING ` + groupColumns

	row := r.db.QueryRowContext(ctx, query, g.ChatID, g.Title, g.Username, string(g.Type), g.RegisteredBy)
	out, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("failed to register group %d: %w", g.ChatID, err)
	}
	return out, nil
}

// Get returns a registered group
func (r *GroupRepo) Get(ctx context.Context, chatID int64) (*domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE chat_id = $1`

	out, err := scanGroup(r.db.QueryRowContext(ctx, query, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementReferrals counts a user who arrived from the group's deep link
func (r *GroupRepo) IncrementReferrals(ctx context.Context, chatID int64) error {
	query := `UPDATE groups SET referrals = referrals + 1, updated_at = NOW() WHERE chat_id = $1`

	res, err := r.db.ExecContext(ctx, query, chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func scanGroup(row *sql.Row) (*domain.Group, error) {
	var g domain.Group
	var chatType string
	err := row.Scan(
		&g.ChatID,
		&g.Title,
		&g.Username,
		&chatType,
		&g.RegisteredBy,
		&g.Interactions,
		&g.Referrals,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Type = domain.ChatType(chatType)
	return &g, nil
}
