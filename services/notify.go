package services

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Notifier доставляет события движка пользователям. Вызывается только после коммита.
type Notifier interface {
	Notify(ctx context.Context, events []RelationEvent)
}

// RelationNotifier публикует события в брокер, а если брокер недоступен - пушит напрямую в WebSocket
type RelationNotifier struct {
	publisher EventPublisher
	ws        *WSConnManager
}

func NewRelationNotifier(publisher EventPublisher, ws *WSConnManager) *RelationNotifier {
	return &RelationNotifier{publisher: publisher, ws: ws}
}

func (n *RelationNotifier) Notify(ctx context.Context, events []RelationEvent) {
	for _, event := range events {
		if n.publisher != nil {
			err := n.publisher.Publish(ctx, event)
			if err == nil {
				continue
			}
			logrus.WithError(err).WithField("event", event.Type).Warn("failed to publish relation event, using websocket fallback")
		}
		pushRelationEvent(n.ws, event)
	}
}

func pushRelationEvent(ws *WSConnManager, event RelationEvent) {
	if ws == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal relation event")
		return
	}
	ws.Send(event.RecipientID, data)
}
