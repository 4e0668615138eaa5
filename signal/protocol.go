package signal

// Relay wire protocol, JSON text in websocket binary frames.
//
// client -> relay:
//  {"command": "authenticate", "room": JOIN_ID, "clientId", "timestamp", "nonce", "signature"}
//  {"command": "custom-data", "participantId": TARGET, "data": OPAQUE}
//
// relay -> client:
//  {"type": "notification", "notification": "connection", "participantId": SELF, "participants": [...], "iceServers": [...]}
//  {"type": "notification", "notification": "registered-peer", "participantId": ID}
//  {"type": "notification", "notification": "hungup", "participantId": ID}
//  {"type": "notification", "notification": "custom-data", "participantId": SENDER, "data": OPAQUE}
//  {"type": "error", "error": MESSAGE}

const (
	CommandAuthenticate = "authenticate"
	CommandCustomData   = "custom-data"
)

const (
	MessageTypeNotification = "notification"
	MessageTypeError        = "error"
)

const (
	NotificationConnection     = "connection"
	NotificationRegisteredPeer = "registered-peer"
	NotificationHungup         = "hungup"
	NotificationCustomData     = "custom-data"
)

type Participant struct {
	ID string `json:"id"`
}

type ICEServer struct {
	URLs       []string `json:"urls" config:"urls"`
	Username   string   `json:"username,omitempty" config:"username"`
	Credential string   `json:"credential,omitempty" config:"credential"`
}

// Command is sent by relay clients.
type Command struct {
	Command  string `json:"command"`
	Sequence int64  `json:"sequence,omitempty"`

	// authenticate
	Room      string `json:"room,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`

	// custom-data
	ParticipantID string `json:"participantId,omitempty"`
	Data          string `json:"data,omitempty"`
}

// Message is sent by the relay.
type Message struct {
	Type         string        `json:"type"`
	Notification string        `json:"notification,omitempty"`
	Participant  string        `json:"participantId,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	ICEServers   []ICEServer   `json:"iceServers,omitempty"`
	Data         string        `json:"data,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Notification is what handlers receive for roster changes and custom data.
type Notification struct {
	Type          string
	ParticipantID string
	Data          string
}

// CustomData is the payload of CommandCustomData.
type CustomData struct {
	ParticipantID string
	Data          string
}
