package kds

// Event names pushed to live viewers.
const (
	EventConnected   = "connected"
	EventSnapshot    = "snapshot"
	EventPing        = "ping"
	EventOrderCreate = "order.created"
	EventOrderStatus = "order.status"
	EventSessionOpen = "session.opened"
	EventSessionEnd  = "session.closed"
)

// Message is the frame shape used where a transport has no native event
// name (websocket) and for the cross-instance relay.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}
