package gateway

// Presence values accepted by the gateway's presence endpoint.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
	PresenceAvailable = "available"
)

// Connection states reported by the gateway per instance.
const (
	StateOpen       = "open"
	StateConnecting = "connecting"
	StateClosed     = "close"
)

type sendTextRequest struct {
	Number  string `json:"number"`
	Text    string `json:"text"`
	DelayMs int    `json:"delay,omitempty"`
}

type sendAudioRequest struct {
	Number string `json:"number"`
	Audio  string `json:"audio"` // base64 payload
}

type presenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
	DelayMs  int    `json:"delay,omitempty"`
}

// SendResponse is the gateway's acknowledgment of an outbound message.
type SendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Status string `json:"status"`
}

type contactRecord struct {
	ID         string `json:"id"` // jid
	PushName   string `json:"pushName"`
	ProfilePic string `json:"profilePicUrl"`
}

type avatarResponse struct {
	ProfilePictureURL string `json:"profilePictureUrl"`
}

type connectionStateResponse struct {
	Instance struct {
		Name  string `json:"instanceName"`
		State string `json:"state"`
	} `json:"instance"`
}
