package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Notifications - WebSocket канал уведомлений о подписках и дружбе
func (h *Handler) Notifications(c *gin.Context) {
	userID := currentUserID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.ws.Add(userID, conn)
	defer h.ws.Remove(userID, conn)

	h.ws.Send(userID, []byte(`{"event":"connected"}`))

	// входящие сообщения не обрабатываются, чтение нужно только чтобы заметить закрытие
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Debug("websocket closed")
			return
		}
	}
}
