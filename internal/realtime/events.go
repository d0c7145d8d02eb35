package realtime

import "encoding/json"

// Client -> server events.
const (
	EventSetUsername      = "setUsername"
	EventJoinConversation = "joinConversation"
	EventMessage          = "message"
	EventCallInitiated    = "callInitiated"
	EventCallAccepted     = "callAccepted"
	EventCallCancelled    = "callCancelled"
	EventCallDeclined     = "callDeclined"
	EventCallEnded        = "callEnded"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "iceCandidate"
	EventMuteStatus       = "muteStatus"
	EventDisconnect       = "disconnect"
)

// Server -> client events.
const (
	EventIncomingCall       = "incomingCall"
	EventCallMissed         = "callMissed"
	EventCallFailed         = "callFailed"
	EventNewMessage         = "newMessage"
	EventStatusUpdate       = "statusUpdate"
	EventCallHistoryUpdated = "callHistoryUpdated"
)

// Envelope is the wire frame for every realtime event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SetUsernamePayload announces the authenticated identity of a connection.
type SetUsernamePayload struct {
	Username string `json:"username"`
}

// JoinPayload joins the live membership of a conversation room.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessagePayload is an inbound chat message.
type MessagePayload struct {
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	Content        string `json:"content"`
}

// CallPayload carries the two parties of a call lifecycle event.
type CallPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// IncomingCallPayload notifies the receiver that a call is ringing.
type IncomingCallPayload struct {
	From string `json:"from"`
}

// CallMissedPayload notifies both parties that a ringing call timed out.
type CallMissedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CallFailedPayload is reported to the initiating side only.
type CallFailedPayload struct {
	Message string `json:"message"`
}

// SignalPayload carries WebRTC negotiation metadata. Description is set for
// offer/answer, Candidate for iceCandidate; the relay forwards them verbatim.
type SignalPayload struct {
	To          string          `json:"to"`
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

// MuteStatusPayload is relayed to the peer of the sender's in-flight call.
type MuteStatusPayload struct {
	From    string `json:"from"`
	IsMuted bool   `json:"isMuted"`
}
