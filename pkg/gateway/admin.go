package gateway

import (
	"context"
	"fmt"
)

// Admin covers instance lifecycle operations used at provisioning time
// and on startup, kept apart from Client so the pipeline never sees them.
type Admin interface {
	CreateInstance(ctx context.Context, instance string) error
	DeleteInstance(ctx context.Context, instance string) error
	Logout(ctx context.Context, instance string) error
	SetWebhook(ctx context.Context, instance, url string, events []string) error
}

type createInstanceRequest struct {
	InstanceName string `json:"instanceName"`
	Integration  string `json:"integration"`
	QRCode       bool   `json:"qrcode"`
}

type setWebhookRequest struct {
	Webhook struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	} `json:"webhook"`
}

func (c *restClient) CreateInstance(ctx context.Context, instance string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContactsTimeout())
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createInstanceRequest{InstanceName: instance, Integration: "WHATSAPP-BAILEYS", QRCode: true}).
		Post("/instance/create")
	if err != nil {
		return fmt.Errorf("gateway instance create failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway instance create returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *restClient) DeleteInstance(ctx context.Context, instance string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContactsTimeout())
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/instance/delete/" + instance)
	if err != nil {
		return fmt.Errorf("gateway instance delete failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway instance delete returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *restClient) Logout(ctx context.Context, instance string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContactsTimeout())
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/instance/logout/" + instance)
	if err != nil {
		return fmt.Errorf("gateway logout failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway logout returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *restClient) SetWebhook(ctx context.Context, instance, url string, events []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ContactsTimeout())
	defer cancel()

	var body setWebhookRequest
	body.Webhook.URL = url
	body.Webhook.Events = events

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/webhook/set/" + instance)
	if err != nil {
		return fmt.Errorf("gateway webhook update failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway webhook update returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
