package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"medilink_back_end_go/models"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrNotParticipant        = errors.New("user is not a participant of this conversation")
	ErrDuplicateConversation = errors.New("an active conversation already exists for this patient and facility")
)

const uniqueViolation = "23505"

// PgChatStore is the Postgres-backed conversation and message store. It is
// the single source of truth for durable chat state; the connection
// registry never persists anything.
type PgChatStore struct {
	pool *pgxpool.Pool
}

func NewPgChatStore(pool *pgxpool.Pool) *PgChatStore {
	return &PgChatStore{pool: pool}
}

const conversationColumns = `id, patient_id, professional_id, facility_id, subject, status, last_activity_at, created_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conv models.Conversation
	err := row.Scan(&conv.ID, &conv.PatientID, &conv.ProfessionalID, &conv.FacilityID,
		&conv.Subject, &conv.Status, &conv.LastActivityAt, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation loads a conversation by id.
func (s *PgChatStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// CreateConversation opens a conversation between a patient and a
// professional. The partial unique index allows one active conversation
// per (patient, facility) pair; a conflict surfaces as
// ErrDuplicateConversation instead of a racy select-then-insert.
func (s *PgChatStore) CreateConversation(ctx context.Context, patientID, professionalID int64, facilityID *int64, subject string) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (patient_id, professional_id, facility_id, subject)
		VALUES ($1, $2, $3, $4)
		RETURNING `+conversationColumns,
		patientID, professionalID, facilityID, subject)

	conv, err := scanConversation(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// InsertMessage appends a message and returns the materialized row with
// its generated id and server timestamp. This is the durability point for
// send_message.
func (s *PgChatStore) InsertMessage(ctx context.Context, conversationID, senderID int64, body, messageType string, attachment *string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Type:           messageType,
		Attachment:     attachment,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body, message_type, attachment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		conversationID, senderID, body, messageType, attachment).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// TouchConversation bumps the last-activity timestamp.
func (s *PgChatStore) TouchConversation(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_activity_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch conversation %d: %w", id, err)
	}
	return nil
}

// MarkConversationRead marks every unread message not written by readerID
// as read and returns the number of rows affected. Calling it again is a
// no-op that touches zero rows.
func (s *PgChatStore) MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, read_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE`,
		conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation %d read: %w", conversationID, err)
	}
	return tag.RowsAffected(), nil
}

// UpdateStatus transitions a conversation to resolved or closed.
func (s *PgChatStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update conversation %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationsForUser returns the caller's inbox, most recently
// active first, with their unread count per conversation.
func (s *PgChatStore) ListConversationsForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.patient_id, c.professional_id, c.facility_id, c.subject,
		       c.status, c.last_activity_at, c.created_at,
		       COUNT(m.id) FILTER (WHERE m.is_read = FALSE AND m.sender_id <> $1) AS unread_count
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.patient_id = $1 OR c.professional_id = $1
		GROUP BY c.id
		ORDER BY c.last_activity_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user %d: %w", userID, err)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var summary models.ConversationSummary
		if err := rows.Scan(&summary.ID, &summary.PatientID, &summary.ProfessionalID, &summary.FacilityID, &summary.Subject,
			&summary.Status, &summary.LastActivityAt, &summary.CreatedAt, &summary.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return summaries, nil
}

// ListMessages returns a conversation's log in creation order.
func (s *PgChatStore) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, body, message_type, attachment, is_read, read_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Type,
			&m.Attachment, &m.IsRead, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// RegisterPushToken upserts a device's delivery token keyed by device id,
// reactivating it if it was previously disabled.
func (s *PgChatStore) RegisterPushToken(ctx context.Context, userID int64, deviceID, platform, token string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_tokens (user_id, device_id, platform, token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    platform = EXCLUDED.platform,
		    token = EXCLUDED.token,
		    active = TRUE,
		    updated_at = NOW()`,
		userID, deviceID, platform, token)
	if err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	return nil
}

// ActivePushTokens returns all active delivery tokens for a user, one per
// registered device.
func (s *PgChatStore) ActivePushTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token FROM push_tokens WHERE user_id = $1 AND active = TRUE`, userID)
	if err != nil {
		return nil, fmt.Errorf("load push tokens for user %d: %w", userID, err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}
	return tokens, nil
}

// UserDisplayName resolves the name used in push notification titles.
func (s *PgChatStore) UserDisplayName(ctx context.Context, userID int64) (string, error) {
	var user models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, role FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.FirstName, &user.LastName, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load user %d: %w", userID, err)
	}
	return user.DisplayName(), nil
}
