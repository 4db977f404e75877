package models

// Gateway webhook event types
const (
	EventMessagesUpsert = "messages.upsert"
	EventContactsUpsert = "contacts.upsert"
	EventContactsUpdate = "contacts.update"
)

// GatewayEvent is the inbound webhook payload posted by the messaging
// gateway. Contact events carry their entries in ContactData instead of
// Data; the gateway sends whichever applies.
type GatewayEvent struct {
	Event       string               `json:"event"`
	Instance    string               `json:"instance"`
	Data        GatewayMessageData   `json:"data"`
	ContactData []GatewayContactData `json:"contactData,omitempty"`
}

// GatewayMessageData is the message body of a messages.upsert event.
type GatewayMessageData struct {
	Key struct {
		RemoteJID   string `json:"remoteJid"`
		Participant string `json:"participant,omitempty"`
		FromMe      bool   `json:"fromMe"`
		ID          string `json:"id"`
	} `json:"key"`
	PushName         string `json:"pushName"`
	MessageTimestamp int64  `json:"messageTimestamp"`
	Message          struct {
		Conversation        string `json:"conversation,omitempty"`
		ExtendedTextMessage *struct {
			Text        string              `json:"text"`
			ContextInfo *GatewayContextInfo `json:"contextInfo,omitempty"`
		} `json:"extendedTextMessage,omitempty"`
		AudioMessage *struct {
			URL             string              `json:"url"`
			MimeType        string              `json:"mimetype"`
			DurationSeconds int                 `json:"seconds"`
			ContextInfo     *GatewayContextInfo `json:"contextInfo,omitempty"`
		} `json:"audioMessage,omitempty"`
	} `json:"message"`
}

// GatewayContextInfo is the per-message context the gateway attaches to
// rich message types.
type GatewayContextInfo struct {
	IsForwarded     bool `json:"isForwarded,omitempty"`
	ForwardingScore int  `json:"forwardingScore,omitempty"`
}

// GatewayContactData is one entry of a contacts.upsert/update event.
type GatewayContactData struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid,omitempty"`
	LID       string `json:"lid,omitempty"`
	Name      string `json:"name,omitempty"`
	Notify    string `json:"notify,omitempty"`
	PushName  string `json:"pushName,omitempty"`
	AvatarURL string `json:"profilePicUrl,omitempty"`
}

// Text returns the plain text of the message, whichever wire field
// carried it.
func (d *GatewayMessageData) Text() string {
	if d.Message.Conversation != "" {
		return d.Message.Conversation
	}
	if d.Message.ExtendedTextMessage != nil {
		return d.Message.ExtendedTextMessage.Text
	}
	return ""
}

// Forwarded reports whether the message was forwarded to us rather than
// typed by the contact.
func (d *GatewayMessageData) Forwarded() bool {
	if m := d.Message.ExtendedTextMessage; m != nil && m.ContextInfo != nil {
		return m.ContextInfo.IsForwarded || m.ContextInfo.ForwardingScore > 0
	}
	if m := d.Message.AudioMessage; m != nil && m.ContextInfo != nil {
		return m.ContextInfo.IsForwarded || m.ContextInfo.ForwardingScore > 0
	}
	return false
}

// IsAudio reports whether the payload carries a voice note.
func (d *GatewayMessageData) IsAudio() bool {
	return d.Message.AudioMessage != nil
}

// ContactJID returns the best contact id of a contacts event entry.
func (c *GatewayContactData) ContactJID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.RemoteJID
}

// DisplayName returns the best display name of a contacts event entry.
func (c *GatewayContactData) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Notify != "" {
		return c.Notify
	}
	return c.PushName
}
