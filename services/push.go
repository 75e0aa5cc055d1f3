package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"medilink_back_end_go/models"
)

// TaskTypePushDeliver is the asynq task type for queued push deliveries.
const TaskTypePushDeliver = "push:deliver"

const pushQueue = "push"

// TokenSource resolves recipient device tokens and display names.
// PgChatStore implements it.
type TokenSource interface {
	ActivePushTokens(ctx context.Context, userID int64) ([]string, error)
	UserDisplayName(ctx context.Context, userID int64) (string, error)
}

// PushProvider submits one formatted notification to a set of device
// tokens. ExpoClient implements it against the Expo push HTTP API.
type PushProvider interface {
	Send(ctx context.Context, tokens []string, note Notification) error
}

// Notification is the provider payload shape the mobile clients expect.
type Notification struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Sound    string                 `json:"sound,omitempty"`
	Badge    *int                   `json:"badge,omitempty"`
	Priority string                 `json:"priority,omitempty"`
}

// pushTask is the queued form of one pending delivery. The notification is
// fully formatted at dispatch time so the worker only resolves tokens and
// submits.
type pushTask struct {
	RecipientID    int64  `json:"recipient_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
}

// PushDispatcher is the offline fallback path: it turns an already
// persisted message into a best-effort push notification. With a queue
// configured the delivery runs on an asynq worker; without one (or when
// enqueueing fails) it runs synchronously, so either way a message causes
// at most one submission attempt.
type PushDispatcher struct {
	store    TokenSource
	provider PushProvider
	queue    *asynq.Client // nil when Redis is not configured
	logger   zerolog.Logger
}

func NewPushDispatcher(store TokenSource, provider PushProvider, queue *asynq.Client, logger zerolog.Logger) *PushDispatcher {
	return &PushDispatcher{
		store:    store,
		provider: provider,
		queue:    queue,
		logger:   logger.With().Str("component", "push").Logger(),
	}
}

// DispatchNewMessage formats and submits the notification for a message
// whose recipient was offline. It never mutates chat state.
func (d *PushDispatcher) DispatchNewMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	task := pushTask{
		RecipientID:    conv.Counterpart(msg.SenderID),
		Title:          d.notificationTitle(ctx, msg.SenderID),
		Body:           notificationBody(msg),
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}

	if d.queue != nil {
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal push task: %w", err)
		}
		// MaxRetry 0: a failed worker run must not turn into repeated
		// notifications for the same message.
		_, err = d.queue.EnqueueContext(ctx, asynq.NewTask(TaskTypePushDeliver, payload),
			asynq.Queue(pushQueue), asynq.MaxRetry(0))
		if err == nil {
			return nil
		}
		d.logger.Warn().Err(err).Msg("enqueue failed, delivering push synchronously")
	}

	return d.deliver(ctx, task)
}

// HandleDeliverTask is the asynq handler for queued deliveries.
func (d *PushDispatcher) HandleDeliverTask(ctx context.Context, t *asynq.Task) error {
	var task pushTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("unmarshal push task: %w", err)
	}
	return d.deliver(ctx, task)
}

func (d *PushDispatcher) deliver(ctx context.Context, task pushTask) error {
	tokens, err := d.store.ActivePushTokens(ctx, task.RecipientID)
	if err != nil {
		return fmt.Errorf("resolve push tokens: %w", err)
	}
	if len(tokens) == 0 {
		d.logger.Debug().Int64("recipient_id", task.RecipientID).Msg("recipient has no registered devices")
		return nil
	}

	note := Notification{
		Title: task.Title,
		Body:  task.Body,
		Data: map[string]interface{}{
			"type":            EventNewMessage,
			"conversation_id": task.ConversationID,
			"message_id":      task.MessageID,
		},
		Sound:    "default",
		Priority: "high",
	}

	if err := d.provider.Send(ctx, tokens, note); err != nil {
		return fmt.Errorf("submit push notification: %w", err)
	}
	return nil
}

func (d *PushDispatcher) notificationTitle(ctx context.Context, senderID int64) string {
	name, err := d.store.UserDisplayName(ctx, senderID)
	if err != nil || name == "" {
		return "New message"
	}
	return name
}

// notificationBody formats the push body per message type. Non-text
// payloads get placeholder text: push payloads are size-limited and must
// not echo attachment content.
func notificationBody(msg *models.Message) string {
	switch msg.Type {
	case models.MessageImage:
		return "Sent an image"
	case models.MessageFile:
		return "Sent a file"
	case models.MessagePrescription:
		return "Sent a prescription"
	default:
		return msg.Body
	}
}

// NewPushQueue builds the asynq producer client, or nil when redisURL is
// empty.
func NewPushQueue(redisURL string) (*asynq.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewPushWorker builds the asynq consumer that runs queued deliveries.
func NewPushWorker(redisURL string, dispatcher *PushDispatcher) (*asynq.Server, *asynq.ServeMux, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{pushQueue: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePushDeliver, dispatcher.HandleDeliverTask)
	return srv, mux, nil
}

// ExpoClient talks to an Expo-compatible push endpoint.
type ExpoClient struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewExpoClient(url string, logger zerolog.Logger) *ExpoClient {
	return &ExpoClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "expo").Logger(),
	}
}

type expoRequest struct {
	To []string `json:"to"`
	Notification
}

type expoResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

// Send submits one notification to all given tokens in a single request.
// Per-device rejections reported in the response body are logged and do
// not fail the call; only transport and endpoint-level errors do.
func (c *ExpoClient) Send(ctx context.Context, tokens []string, note Notification) error {
	payload, err := json.Marshal(expoRequest{To: tokens, Notification: note})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push provider request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push provider returned %d: %s", resp.StatusCode, body)
	}

	var parsed expoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Provider accepted the batch; an unparsable body is not a failure.
		return nil
	}
	for i, ticket := range parsed.Data {
		if ticket.Status != "" && ticket.Status != "ok" {
			c.logger.Warn().
				Int("device", i).
				Str("status", ticket.Status).
				Str("detail", ticket.Message).
				Msg("push rejected for device")
		}
	}
	return nil
}
