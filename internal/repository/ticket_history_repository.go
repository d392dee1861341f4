package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, guildID, ticketID string) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	oldValue, err := marshalJSON(history.OldValue)
	if err != nil {
		return err
	}
	newValue, err := marshalJSON(history.NewValue)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO ticket_history (id, guild_id, ticket_id, actor_id, change_type, old_value, new_value)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		history.ID,
		history.GuildID,
		history.TicketID,
		history.ActorID,
		history.ChangeType,
		oldValue,
		newValue,
	).Scan(&history.CreatedAt)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, guildID, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id::text, guild_id, ticket_id, actor_id, change_type, old_value, new_value, created_at
        FROM ticket_history WHERE guild_id=$1 AND ticket_id=$2 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, guildID, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var (
			history  domain.TicketHistory
			oldValue []byte
			newValue []byte
		)
		if err := rows.Scan(
			&history.ID,
			&history.GuildID,
			&history.TicketID,
			&history.ActorID,
			&history.ChangeType,
			&oldValue,
			&newValue,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		if history.OldValue, err = unmarshalJSON(oldValue); err != nil {
			return nil, err
		}
		if history.NewValue, err = unmarshalJSON(newValue); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode history value: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode history value: %w", err)
	}
	return out, nil
}
