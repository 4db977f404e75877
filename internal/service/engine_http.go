package service

import (
	"context"
	"fmt"

	"chatfunnel/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// HTTPEngine talks to the reasoning-engine service over REST. The engine
// owns prompting, tool use, transcription and speech synthesis; this
// client only ships conversation context over and maps the answer back.
type HTTPEngine struct {
	http   *resty.Client
	logger *logrus.Logger
}

func NewHTTPEngine(cfg models.EngineConfig, logger *logrus.Logger) *HTTPEngine {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout()).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		http.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &HTTPEngine{http: http, logger: logger}
}

type engineTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type engineReplyRequest struct {
	ConversationID string       `json:"conversation_id"`
	TenantID       string       `json:"tenant_id"`
	ContactName    string       `json:"contact_name,omitempty"`
	Stage          string       `json:"stage"`
	Persona        string       `json:"persona"`
	Language       string       `json:"language"`
	Source         string       `json:"source"`
	Model          string       `json:"model,omitempty"`
	WantAudio      bool         `json:"want_audio,omitempty"`
	Voice          string       `json:"voice,omitempty"`
	VoiceSpeed     float64      `json:"voice_speed,omitempty"`
	History        []engineTurn `json:"history"`
}

type engineReplyResponse struct {
	Text         string  `json:"text"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	AudioBase64  string  `json:"audio_base64,omitempty"`
}

func (e *HTTPEngine) Reply(ctx context.Context, req *ReplyRequest) (*Reply, error) {
	body := engineReplyRequest{
		ConversationID: req.Conversation.ID,
		TenantID:       req.Conversation.TenantID,
		ContactName:    req.Conversation.ContactName,
		Stage:          string(req.State.CurrentNode),
		Persona:        req.Persona,
		Language:       req.Language,
		Source:         req.Source,
		WantAudio:      req.WantAudio,
		History:        make([]engineTurn, 0, len(req.History)),
	}
	if req.Agent != nil {
		body.Model = req.Agent.Model
		if req.Agent.Voice != nil {
			body.Voice = req.Agent.Voice.Voice
			body.VoiceSpeed = req.Agent.Voice.Speed
		}
	}
	for _, msg := range req.History {
		body.History = append(body.History, engineTurn{Role: string(msg.Role), Content: msg.Content})
	}

	var out engineReplyResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v1/reply")
	if err != nil {
		return nil, fmt.Errorf("engine reply failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("engine reply returned %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Text == "" {
		return nil, fmt.Errorf("engine returned an empty reply")
	}

	return &Reply{
		Text:         out.Text,
		Model:        out.Model,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Cost:         out.Cost,
		AudioBase64:  out.AudioBase64,
	}, nil
}

type engineTranscribeRequest struct {
	Instance        string `json:"instance"`
	MessageID       string `json:"message_id"`
	AudioURL        string `json:"audio_url"`
	MimeType        string `json:"mime_type,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type engineTranscribeResponse struct {
	Text string `json:"text"`
}

func (e *HTTPEngine) Transcribe(ctx context.Context, instance string, data *models.GatewayMessageData) (string, error) {
	audio := data.Message.AudioMessage
	if audio == nil {
		return "", fmt.Errorf("message carries no audio")
	}

	body := engineTranscribeRequest{
		Instance:        instance,
		MessageID:       data.Key.ID,
		AudioURL:        audio.URL,
		MimeType:        audio.MimeType,
		DurationSeconds: audio.DurationSeconds,
	}

	var out engineTranscribeResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v1/transcribe")
	if err != nil {
		return "", fmt.Errorf("engine transcription failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("engine transcription returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Text, nil
}
