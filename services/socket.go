package services

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medilink_back_end_go/auth"
)

// TokenVerifier validates the credential presented at connection time.
// *auth.Verifier implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// SocketServer owns the websocket connection lifecycle: upgrade, the
// authentication handshake, registry membership, and the per-connection
// read loop. A registry entry exists only while the connection is
// authenticated and active, and is removed unconditionally on the way out.
type SocketServer struct {
	registry *Registry
	relay    *Relay
	verifier TokenVerifier
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewSocketServer(registry *Registry, relay *Relay, verifier TokenVerifier, logger zerolog.Logger) *SocketServer {
	return &SocketServer{
		registry: registry,
		relay:    relay,
		verifier: verifier,
		logger:   logger.With().Str("component", "socket").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Mobile clients send no Origin; browser origins are
				// enforced by the CORS layer on the REST surface.
				return true
			},
		},
	}
}

// ServeWs handles GET /ws?token=… . The credential travels as a query
// parameter because the React Native websocket client cannot set custom
// headers during the upgrade.
func (s *SocketServer) ServeWs(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	token := c.Query("token")
	if token == "" {
		s.rejectHandshake(ws, CloseMissingToken, "credential required")
		return
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket credential rejected")
		s.rejectHandshake(ws, CloseInvalidToken, "credential invalid or expired")
		return
	}

	client := NewClient(claims.UserID, claims.Role, ws)
	client.configureRead()

	if superseded := s.registry.Register(client.UserID, client); superseded != nil {
		superseded.Close(CloseSessionSuperseded, "session replaced")
	}
	client.Start()

	s.logger.Info().
		Int64("user_id", client.UserID).
		Str("session_id", client.SessionID).
		Int("online", s.registry.Count()).
		Msg("user connected")

	_ = client.Send(encodeDataEvent(EventConnected, ConnectedPayload{
		UserID: client.UserID,
		Role:   client.Role,
	}))

	s.readLoop(c, client)
}

// readLoop pumps inbound frames into the relay until the connection dies.
// Unregistering is the terminal action regardless of how the loop ends.
func (s *SocketServer) readLoop(c *gin.Context, client *Client) {
	defer func() {
		s.registry.Unregister(client)
		client.Close(websocket.CloseNormalClosure, "")
		s.logger.Info().
			Int64("user_id", client.UserID).
			Int("online", s.registry.Count()).
			Msg("user disconnected")
	}()

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Int64("user_id", client.UserID).Msg("connection read error")
			}
			return
		}
		s.relay.HandleInbound(c.Request.Context(), client.UserID, client, frame)
	}
}

// rejectHandshake closes an unauthenticated connection with a distinct
// close code and no registry mutation. No event is emitted: there is no
// authenticated channel yet.
func (s *SocketServer) rejectHandshake(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadlineFromNow())
	_ = ws.Close()
}
