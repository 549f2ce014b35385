package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	err       error
	published []RelationEvent
}

func (p *stubPublisher) Publish(_ context.Context, event RelationEvent) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

// dialTestWS поднимает websocket-сервер, регистрирует соединение userID в менеджере и возвращает клиентский конец
func dialTestWS(t *testing.T, ws *WSConnManager, userID int64) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Add(userID, conn)
		close(registered)
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("websocket connection was not registered")
	}
	return client
}

func TestNotifierPublishesToBroker(t *testing.T) {
	publisher := &stubPublisher{}
	notifier := NewRelationNotifier(publisher, nil)

	events := []RelationEvent{
		newRelationEvent(EventFollowRequested, 2, 1, 2),
		newRelationEvent(EventFriendshipCreated, 1, 2, 1),
	}
	notifier.Notify(context.Background(), events)

	require.Len(t, publisher.published, 2)
	assert.Equal(t, "relation.follow_requested", publisher.published[0].RoutingKey())
	assert.NotEqual(t, publisher.published[0].ID, publisher.published[1].ID)
}

func TestNotifierFallsBackToWebsocket(t *testing.T) {
	ws := NewWSConnManager()
	client := dialTestWS(t, ws, 7)
	assert.Equal(t, 1, ws.Connections(7))

	notifier := NewRelationNotifier(&stubPublisher{err: errors.New("broker is down")}, ws)
	notifier.Notify(context.Background(), []RelationEvent{newRelationEvent(EventFollowerAccepted, 3, 7, 7)})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var event RelationEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, EventFollowerAccepted, event.Type)
	assert.Equal(t, int64(3), event.FolloweeID)
	assert.Equal(t, int64(7), event.RecipientID)
}

func TestNotifierWithoutTransports(t *testing.T) {
	notifier := NewRelationNotifier(nil, nil)
	assert.NotPanics(t, func() {
		notifier.Notify(context.Background(), []RelationEvent{newRelationEvent(EventUnfollowed, 1, 2, 1)})
	})
}

func TestWSConnManagerRemove(t *testing.T) {
	ws := NewWSConnManager()
	dialTestWS(t, ws, 1)
	require.Equal(t, 1, ws.Connections(1))

	ws.mu.RLock()
	conn := ws.users[1][0].conn
	ws.mu.RUnlock()

	ws.Remove(1, conn)
	assert.Equal(t, 0, ws.Connections(1))
	// отправка пользователю без соединений ничего не делает
	ws.Send(1, []byte("{}"))
}

func TestSlowConnectionDoesNotBlockOthers(t *testing.T) {
	ws := NewWSConnManager()
	dialTestWS(t, ws, 1)
	fast := dialTestWS(t, ws, 2)

	// запись в соединение пользователя 1 зависла
	ws.mu.RLock()
	stalled := ws.users[1][0]
	ws.mu.RUnlock()
	stalled.mu.Lock()

	stuck := make(chan struct{})
	go func() {
		ws.Send(1, []byte(`{"event":"stuck"}`))
		close(stuck)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.Send(2, []byte(`{"event":"ping"}`))
		// Remove берёт блокировку карты на запись
		ws.Remove(99, nil)
		ws.Connections(1)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a stalled connection blocked other users")
	}

	require.NoError(t, fast.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := fast.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(data))

	stalled.mu.Unlock()
	select {
	case <-stuck:
	case <-time.After(2 * time.Second):
		t.Fatal("write to the released connection did not finish")
	}
}
