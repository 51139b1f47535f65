package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/internal/pkg/serverutils"
	"sales-intel-be/internal/service"
	internalWS "sales-intel-be/internal/websocket"
)

const streamModule = "StreamHandler"

// StreamHandler upgrades dashboards to the snapshot WebSocket.
type StreamHandler struct {
	service   service.ISearchService
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewStreamHandler(service service.ISearchService, hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *StreamHandler {
	return &StreamHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// ServeWs authenticates the handshake with the "token" query parameter or
// the Authorization header, then sends the current snapshot followed by
// every later one.
func (h *StreamHandler) ServeWs(c *fiber.Ctx) error {
	userID, err := serverutils.ParseUserID(serverutils.BearerToken(c), h.jwtSecret)
	if err != nil {
		h.logger.Warn(streamModule, "Rejected WS handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, err.Error()))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	initial, err := internalWS.EncodeSnapshot(h.service.Snapshot(c.UserContext(), userID))
	if err != nil {
		return err
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(streamModule, "Starting WebSocket session", map[string]interface{}{"user_id": userID.String()})
		internalWS.ServeWs(h.hub, conn, userID, initial)
		h.logger.Info(streamModule, "WebSocket session ended", map[string]interface{}{"user_id": userID.String()})
	})(c)
}

func (h *StreamHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws", h.ServeWs)
}
