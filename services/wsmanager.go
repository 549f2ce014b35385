package services

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const WS_WRITE_TIMEOUT = 5 * time.Second

// wsConn - соединение со своей блокировкой записи: gorilla/websocket не допускает конкурентных писателей
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(WS_WRITE_TIMEOUT)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// WSConnManager хранит открытые WebSocket соединения пользователей
type WSConnManager struct {
	mu    sync.RWMutex
	users map[int64][]*wsConn
}

func NewWSConnManager() *WSConnManager {
	return &WSConnManager{
		users: make(map[int64][]*wsConn),
	}
}

func (m *WSConnManager) Add(userID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = append(m.users[userID], &wsConn{conn: conn})
}

func (m *WSConnManager) Remove(userID int64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.users[userID]
	for i, c := range conns {
		if c.conn == conn {
			m.users[userID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(m.users[userID]) == 0 {
		delete(m.users, userID)
	}
}

func (m *WSConnManager) Connections(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

// Send пишет сообщение во все соединения пользователя.
// Карта блокируется только на время копирования списка, медленный клиент задерживает лишь свои записи.
func (m *WSConnManager) Send(userID int64, message []byte) {
	m.mu.RLock()
	conns := append([]*wsConn(nil), m.users[userID]...)
	m.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(message); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Debug("websocket write failed")
		}
	}
}
