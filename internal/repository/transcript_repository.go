package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util"
)

// TranscriptRepository archives closing transcripts.
type TranscriptRepository interface {
	Save(ctx context.Context, record *domain.TranscriptRecord) error
	Get(ctx context.Context, guildID, ticketID string) (*domain.TranscriptRecord, error)
	ListByRequester(ctx context.Context, guildID, requesterID string, limit int) ([]domain.TranscriptRecord, error)
}

type transcriptRepository struct {
	pool *pgxpool.Pool
}

// NewTranscriptRepository builds repository.
func NewTranscriptRepository(pool *pgxpool.Pool) TranscriptRepository {
	return &transcriptRepository{pool: pool}
}

func (r *transcriptRepository) Save(ctx context.Context, record *domain.TranscriptRecord) error {
	const query = `
        INSERT INTO ticket_transcripts (guild_id, ticket_id, requester_id, category, close_type, content, message_count, truncated, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (guild_id, ticket_id) DO UPDATE SET
            content=EXCLUDED.content, message_count=EXCLUDED.message_count,
            truncated=EXCLUDED.truncated, close_type=EXCLUDED.close_type, closed_at=EXCLUDED.closed_at
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		record.GuildID,
		record.TicketID,
		record.RequesterID,
		record.Category,
		record.CloseType,
		record.Content,
		record.MessageCount,
		record.Truncated,
		record.ClosedAt,
	).Scan(&record.CreatedAt)
}

const transcriptColumns = `guild_id, ticket_id, requester_id, category, close_type, content, message_count, truncated, closed_at, created_at`

func (r *transcriptRepository) Get(ctx context.Context, guildID, ticketID string) (*domain.TranscriptRecord, error) {
	query := `SELECT ` + transcriptColumns + ` FROM ticket_transcripts WHERE guild_id=$1 AND ticket_id=$2`
	record, err := scanTranscript(r.pool.QueryRow(ctx, query, guildID, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("transcript", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return record, nil
}

func (r *transcriptRepository) ListByRequester(ctx context.Context, guildID, requesterID string, limit int) ([]domain.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + transcriptColumns + ` FROM ticket_transcripts
        WHERE guild_id=$1 AND requester_id=$2 ORDER BY closed_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, guildID, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TranscriptRecord
	for rows.Next() {
		record, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

func scanTranscript(row pgx.Row) (*domain.TranscriptRecord, error) {
	var record domain.TranscriptRecord
	if err := row.Scan(
		&record.GuildID,
		&record.TicketID,
		&record.RequesterID,
		&record.Category,
		&record.CloseType,
		&record.Content,
		&record.MessageCount,
		&record.Truncated,
		&record.ClosedAt,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}
