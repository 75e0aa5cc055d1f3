package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medilink_back_end_go/auth"
	"medilink_back_end_go/models"
)

// ConversationStore is the persistence surface the REST handlers use.
// PgChatStore implements it.
type ConversationStore interface {
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	CreateConversation(ctx context.Context, patientID, professionalID int64, facilityID *int64, subject string) (*models.Conversation, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	ListConversationsForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error)
	RegisterPushToken(ctx context.Context, userID int64, deviceID, platform, token string) error
}

// ChatService exposes the REST surface the chat feature needs: the inbox,
// message history, conversation creation and status, and device
// registration for push delivery.
type ChatService struct {
	store  ConversationStore
	logger zerolog.Logger
}

func NewChatService(store ConversationStore, logger zerolog.Logger) *ChatService {
	return &ChatService{
		store:  store,
		logger: logger.With().Str("component", "chat_api").Logger(),
	}
}

// ListConversations returns the caller's conversations, most recently
// active first, with unread counts.
func (s *ChatService) ListConversations(c *gin.Context) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	conversations, err := s.store.ListConversationsForUser(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve conversations"})
		return
	}
	if conversations == nil {
		conversations = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type createConversationRequest struct {
	ProfessionalID int64  `json:"professional_id" binding:"required"`
	FacilityID     *int64 `json:"facility_id"`
	Subject        string `json:"subject"`
}

// CreateConversation opens a conversation between the calling patient and
// a professional. A second active conversation for the same patient and
// facility is rejected with 409.
func (s *ChatService) CreateConversation(c *gin.Context) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.ProfessionalID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open a conversation with yourself"})
		return
	}

	conv, err := s.store.CreateConversation(c.Request.Context(), userID, req.ProfessionalID, req.FacilityID, req.Subject)
	if err != nil {
		if errors.Is(err, ErrDuplicateConversation) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to create conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// GetMessages returns a conversation's message log to a participant.
func (s *ChatService) GetMessages(c *gin.Context) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	conv, done := s.participantConversation(c, userID)
	if done {
		return
	}

	messages, err := s.store.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("conversation_id", conv.ID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve messages"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus transitions a conversation to resolved or closed.
func (s *ChatService) UpdateStatus(c *gin.Context) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Status != models.ConversationResolved && req.Status != models.ConversationClosed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be resolved or closed"})
		return
	}

	conv, done := s.participantConversation(c, userID)
	if done {
		return
	}

	if err := s.store.UpdateStatus(c.Request.Context(), conv.ID, req.Status); err != nil {
		s.logger.Error().Err(err).Int64("conversation_id", conv.ID).Msg("failed to update status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

type registerDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Platform string `json:"platform" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// RegisterDevice stores a device's push delivery token for the caller.
func (s *ChatService) RegisterDevice(c *gin.Context) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := s.store.RegisterPushToken(c.Request.Context(), userID, req.DeviceID, req.Platform, req.Token); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to register device")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// participantConversation loads the conversation from the :conversationId
// param and enforces that the caller is a participant. It writes the error
// response itself and reports whether the request is finished.
func (s *ChatService) participantConversation(c *gin.Context, userID int64) (*models.Conversation, bool) {
	id, err := strconv.ParseInt(c.Param("conversationId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return nil, true
	}

	conv, err := s.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return nil, true
		}
		s.logger.Error().Err(err).Int64("conversation_id", id).Msg("failed to load conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return nil, true
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return nil, true
	}
	return conv, false
}
