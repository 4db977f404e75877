package service

import (
	"context"
	"sync"

	"chatfunnel/internal/models"
)

// ReplyRequest carries everything the reasoning engine needs to produce
// the next assistant turn. History is oldest first and already trimmed to
// the agent's window.
type ReplyRequest struct {
	Conversation *models.Conversation
	State        *models.ConversationState
	History      []*models.Message
	Language     string
	Source       string
	Persona      string
	Agent        *models.AgentConfig

	// WantAudio asks the engine to also synthesize the reply as speech.
	// Set when the inbound message was audio and the agent has a voice.
	WantAudio bool
}

// Reply is the engine's answer plus the usage accounting persisted on the
// assistant message.
type Reply struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
	AudioBase64  string
}

// ReasoningEngine produces assistant replies. Implementations own their
// prompting, tool use, transcription, and audio synthesis; the pipeline
// only hands over context and routes the result.
type ReasoningEngine interface {
	Reply(ctx context.Context, req *ReplyRequest) (*Reply, error)
	// Transcribe turns an inbound voice note into text. Empty result
	// means transcription was not possible.
	Transcribe(ctx context.Context, instance string, data *models.GatewayMessageData) (string, error)
}

var stallReplies = map[string][]string{
	"pt": {"perai, to verificando aqui", "um seg, ja volto", "opa, da um momento"},
	"en": {"one sec, checking here", "hold on, be right back", "just a moment"},
	"es": {"un momento, estoy verificando", "espera un segundo", "dame un momento"},
}

// stallFallback hands out short stalling phrases when the engine fails,
// rotating through the per-language list so repeated failures do not
// repeat the same phrase at the contact.
type stallFallback struct {
	mu  sync.Mutex
	idx int
}

func (s *stallFallback) next(language string) string {
	msgs, ok := stallReplies[language]
	if !ok {
		msgs = stallReplies["pt"]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := msgs[s.idx%len(msgs)]
	s.idx++
	return msg
}
