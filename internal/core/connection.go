package core

// Frame is a raw payload written to the wire as-is.
type Frame []byte

// SignalConnection abstracts the transport endpoint of one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Messenger pushes typed server-initiated events to one client connection.
// Delivery is best effort: a failed send drops the event for that client
// only and never fails the triggering command.
type Messenger interface {
	Send(event string, payload any) error
}

// Outbound event names of the client contract.
const (
	EventSyncObjState      = "OnSynchronizeObjectState"
	EventSyncObjUpdated    = "OnSynchronizedObjectUpdated"
	EventConnectionError   = "OnConnectionError"
	EventRequestDisconnect = "OnRequestDisconnect"
)
