package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// InitDatabase connects to Postgres and makes sure the chat schema exists.
func InitDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	sqlQueries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			first_name VARCHAR(100) NOT NULL,
			last_name VARCHAR(100) NOT NULL,
			role VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			patient_id BIGINT NOT NULL,
			professional_id BIGINT NOT NULL,
			facility_id BIGINT,
			subject VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (patient_id <> professional_id),
			CHECK (status IN ('active', 'resolved', 'closed'))
		)`,

		// Superseded by the two split indexes below; dropped so databases
		// bootstrapped by earlier builds pick up the corrected rule.
		`DROP INDEX IF EXISTS conversations_active_unique`,

		// One active conversation per patient and facility, and one per
		// patient and professional when no facility is involved. Two
		// indexes so a facility id can never collide with a professional
		// id from the other key space.
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_active_facility_unique
			ON conversations (patient_id, facility_id)
			WHERE facility_id IS NOT NULL AND status = 'active'`,

		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_active_direct_unique
			ON conversations (patient_id, professional_id)
			WHERE facility_id IS NULL AND status = 'active'`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			sender_id BIGINT NOT NULL,
			body TEXT NOT NULL,
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			attachment TEXT,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (message_type IN ('text', 'image', 'file', 'prescription'))
		)`,

		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (conversation_id, created_at)`,

		`CREATE INDEX IF NOT EXISTS messages_unread_idx
			ON messages (conversation_id) WHERE is_read = FALSE`,

		`CREATE TABLE IF NOT EXISTS push_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			device_id VARCHAR(255) NOT NULL UNIQUE,
			platform VARCHAR(20) NOT NULL,
			token TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS push_tokens_user_idx
			ON push_tokens (user_id) WHERE active = TRUE`,
	}

	for _, query := range sqlQueries {
		if _, err := pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}
