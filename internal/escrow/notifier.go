package escrow

import "github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/ws"

type topicPublisher interface {
	Publish(topic string, event any)
}

type hubNotifier struct {
	hub topicPublisher
}

// NewHubNotifier forwards committed transitions to the session's websocket
// topic.
func NewHubNotifier(hub topicPublisher) Notifier {
	return &hubNotifier{hub: hub}
}

func (n *hubNotifier) Notify(session string, event Event) {
	n.hub.Publish(ws.EscrowTopic(session), event)
}
