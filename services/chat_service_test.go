package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medilink_back_end_go/auth"
	"medilink_back_end_go/models"
)

type fakeConversationStore struct {
	conversations map[int64]*models.Conversation
	summaries     []models.ConversationSummary
	messages      map[int64][]models.Message
	devices       []string
	createErr     error
	created       *models.Conversation
}

func (f *fakeConversationStore) GetConversation(_ context.Context, id int64) (*models.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversationStore) CreateConversation(_ context.Context, patientID, professionalID int64, facilityID *int64, subject string) (*models.Conversation, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &models.Conversation{
		ID:             100,
		PatientID:      patientID,
		ProfessionalID: professionalID,
		FacilityID:     facilityID,
		Subject:        subject,
		Status:         models.ConversationActive,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	return f.created, nil
}

func (f *fakeConversationStore) UpdateStatus(_ context.Context, id int64, status string) error {
	conv, ok := f.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Status = status
	return nil
}

func (f *fakeConversationStore) ListConversationsForUser(_ context.Context, _ int64) ([]models.ConversationSummary, error) {
	return f.summaries, nil
}

func (f *fakeConversationStore) ListMessages(_ context.Context, conversationID int64) ([]models.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeConversationStore) MarkConversationRead(_ context.Context, _, _ int64) (int64, error) {
	return 0, nil
}

func (f *fakeConversationStore) RegisterPushToken(_ context.Context, _ int64, deviceID, _, _ string) error {
	f.devices = append(f.devices, deviceID)
	return nil
}

const apiSecret = "api-test-secret"

func newAPITestRouter(store *fakeConversationStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	svc := NewChatService(store, zerolog.Nop())
	api := r.Group("/api/v1")
	api.Use(auth.Middleware(auth.NewVerifier(apiSecret)))
	{
		api.GET("/conversations", svc.ListConversations)
		api.POST("/conversations", svc.CreateConversation)
		api.GET("/conversations/:conversationId/messages", svc.GetMessages)
		api.PATCH("/conversations/:conversationId/status", svc.UpdateStatus)
		api.POST("/devices", svc.RegisterDevice)
	}
	return r
}

func apiRequest(t *testing.T, r *gin.Engine, userID int64, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		token, err := auth.GenerateToken(apiSecret, userID, "patient", time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r := newAPITestRouter(&fakeConversationStore{})
	w := apiRequest(t, r, 0, http.MethodGet, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListConversations(t *testing.T) {
	store := &fakeConversationStore{
		summaries: []models.ConversationSummary{
			{Conversation: *activeConversation(), UnreadCount: 3},
		},
	}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, int64(3), resp.Conversations[0].UnreadCount)
}

func TestCreateConversation(t *testing.T) {
	store := &fakeConversationStore{}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodPost, "/api/v1/conversations", gin.H{
		"professional_id": professionalID,
		"subject":         "prescription question",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, patientID, store.created.PatientID)
	assert.Equal(t, professionalID, store.created.ProfessionalID)
}

func TestCreateConversationDuplicateIsConflict(t *testing.T) {
	store := &fakeConversationStore{createErr: ErrDuplicateConversation}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodPost, "/api/v1/conversations", gin.H{
		"professional_id": professionalID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateConversationWithSelfIsRejected(t *testing.T) {
	r := newAPITestRouter(&fakeConversationStore{})
	w := apiRequest(t, r, patientID, http.MethodPost, "/api/v1/conversations", gin.H{
		"professional_id": patientID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessagesForParticipant(t *testing.T) {
	store := &fakeConversationStore{
		conversations: map[int64]*models.Conversation{conversationID: activeConversation()},
		messages: map[int64][]models.Message{
			conversationID: {{ID: 1, ConversationID: conversationID, SenderID: professionalID, Body: "results are in"}},
		},
	}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodGet, "/api/v1/conversations/42/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "results are in", resp.Messages[0].Body)
}

func TestGetMessagesRejectsNonParticipant(t *testing.T) {
	store := &fakeConversationStore{
		conversations: map[int64]*models.Conversation{conversationID: activeConversation()},
	}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, 9, http.MethodGet, "/api/v1/conversations/42/messages", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMessagesUnknownConversation(t *testing.T) {
	r := newAPITestRouter(&fakeConversationStore{conversations: map[int64]*models.Conversation{}})
	w := apiRequest(t, r, patientID, http.MethodGet, "/api/v1/conversations/777/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	store := &fakeConversationStore{
		conversations: map[int64]*models.Conversation{conversationID: activeConversation()},
	}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodPatch, "/api/v1/conversations/42/status", gin.H{
		"status": models.ConversationResolved,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ConversationResolved, store.conversations[conversationID].Status)
}

func TestUpdateStatusRejectsInvalidTarget(t *testing.T) {
	store := &fakeConversationStore{
		conversations: map[int64]*models.Conversation{conversationID: activeConversation()},
	}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodPatch, "/api/v1/conversations/42/status", gin.H{
		"status": "archived",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDevice(t *testing.T) {
	store := &fakeConversationStore{}
	r := newAPITestRouter(store)

	w := apiRequest(t, r, patientID, http.MethodPost, "/api/v1/devices", gin.H{
		"device_id": "device-1",
		"platform":  "ios",
		"token":     "ExponentPushToken[xyz]",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"device-1"}, store.devices)
}

func TestRegisterDeviceValidatesPayload(t *testing.T) {
	r := newAPITestRouter(&fakeConversationStore{})
	w := apiRequest(t, r, patientID, http.MethodPost, "/api/v1/devices", gin.H{
		"platform": "ios",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
