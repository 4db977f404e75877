package gateway

import (
	"context"
	"fmt"

	"chatfunnel/internal/models"

	"github.com/go-resty/resty/v2"
)

// Client is the outbound surface against the messaging gateway. Every
// call is scoped to one gateway instance; the instance name routes to the
// right tenant's channel.
type Client interface {
	SendText(ctx context.Context, instance, phone, text string) (*SendResponse, error)
	SendAudio(ctx context.Context, instance, phone, audioBase64 string) (*SendResponse, error)
	SetPresence(ctx context.Context, instance, phone, presence string, durationMs int) error
	FetchContacts(ctx context.Context, instance string) ([]models.GatewayContact, error)
	FetchAvatar(ctx context.Context, instance, jid string) (string, error)
	ConnectionState(ctx context.Context, instance string) (string, error)
}

type restClient struct {
	http *resty.Client
	cfg  models.GatewayConfig
}

// NewClient builds a gateway client from configuration. The API key goes
// out on every request; per-call timeouts come from the per-operation
// settings rather than one global client timeout.
func NewClient(cfg models.GatewayConfig) Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &restClient{http: http, cfg: cfg}
}

func (c *restClient) SendText(ctx context.Context, instance, phone, text string) (*SendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout())
	defer cancel()

	var out SendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendTextRequest{Number: phone, Text: text}).
		SetResult(&out).
		Post("/message/sendText/" + instance)
	if err != nil {
		return nil, fmt.Errorf("gateway send text failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway send text returned %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

func (c *restClient) SendAudio(ctx context.Context, instance, phone, audioBase64 string) (*SendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout())
	defer cancel()

	var out SendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendAudioRequest{Number: phone, Audio: audioBase64}).
		SetResult(&out).
		Post("/message/sendWhatsAppAudio/" + instance)
	if err != nil {
		return nil, fmt.Errorf("gateway send audio failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway send audio returned %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

func (c *restClient) SetPresence(ctx context.Context, instance, phone, presence string, durationMs int) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TypingTimeout())
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(presenceRequest{Number: phone, Presence: presence, DelayMs: durationMs}).
		Post("/chat/sendPresence/" + instance)
	if err != nil {
		return fmt.Errorf("gateway presence update failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway presence update returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *restClient) FetchContacts(ctx context.Context, instance string) ([]models.GatewayContact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContactsTimeout())
	defer cancel()

	var records []contactRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{}).
		SetResult(&records).
		Post("/chat/findContacts/" + instance)
	if err != nil {
		return nil, fmt.Errorf("gateway contacts fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway contacts fetch returned %d: %s", resp.StatusCode(), resp.String())
	}

	contacts := make([]models.GatewayContact, 0, len(records))
	for _, r := range records {
		contacts = append(contacts, models.GatewayContact{
			JID:         r.ID,
			DisplayName: r.PushName,
			AvatarURL:   r.ProfilePic,
		})
	}
	return contacts, nil
}

func (c *restClient) FetchAvatar(ctx context.Context, instance, jid string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContactsTimeout())
	defer cancel()

	var out avatarResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"number": jid}).
		SetResult(&out).
		Post("/chat/fetchProfilePictureUrl/" + instance)
	if err != nil {
		return "", fmt.Errorf("gateway avatar fetch failed: %w", err)
	}
	if resp.IsError() {
		// Contacts without an avatar are a routine miss, not a failure.
		if resp.StatusCode() == 404 {
			return "", nil
		}
		return "", fmt.Errorf("gateway avatar fetch returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.ProfilePictureURL, nil
}

func (c *restClient) ConnectionState(ctx context.Context, instance string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout())
	defer cancel()

	var out connectionStateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/instance/connectionState/" + instance)
	if err != nil {
		return "", fmt.Errorf("gateway state check failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gateway state check returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Instance.State, nil
}
