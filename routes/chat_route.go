package routes

import (
	"github.com/gin-gonic/gin"

	"medilink_back_end_go/auth"
	"medilink_back_end_go/services"
)

// SetupChatRoutes wires the chat REST surface and the websocket endpoint.
func SetupChatRoutes(r *gin.Engine, chat *services.ChatService, socket *services.SocketServer, verifier *auth.Verifier) {
	// The socket authenticates itself during the handshake.
	r.GET("/ws", socket.ServeWs)

	api := r.Group("/api/v1")
	api.Use(auth.Middleware(verifier))
	{
		api.GET("/conversations", chat.ListConversations)
		api.POST("/conversations", chat.CreateConversation)
		api.GET("/conversations/:conversationId/messages", chat.GetMessages)
		api.PATCH("/conversations/:conversationId/status", chat.UpdateStatus)
		api.POST("/devices", chat.RegisterDevice)
	}
}
