package service

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"chatfunnel/internal/models"
	"chatfunnel/internal/privacy"
	"chatfunnel/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// DeliveryQueue is the slice of the queue service the sender and pipeline
// need: park what could not go out now.
type DeliveryQueue interface {
	QueueFailed(ctx context.Context, tenantID, accountID, phone, content, lastError string) error
	QueuePendingIdentity(ctx context.Context, tenantID, accountID, opaqueID, content, displayName string) error
	QueueAdminAlert(ctx context.Context, tenantID, accountID, adminPhone, content, kind string) error
	DeliverPendingBatch(ctx context.Context, accountID, instance, opaqueID, phone string) error
}

// Sender shapes and delivers outbound replies: splits long text at
// sentence boundaries, simulates human typing between chunks, and parks
// anything the gateway refuses on the retry queue.
type Sender struct {
	gw     gateway.Client
	queue  DeliveryQueue
	cfg    models.SenderConfig
	logger *logrus.Logger

	// sleep is swapped out in tests so typing simulation costs nothing.
	sleep func(time.Duration)
}

// NewSender creates a sender over the gateway client and retry queue.
func NewSender(gw gateway.Client, queue DeliveryQueue, cfg models.SenderConfig, logger *logrus.Logger) *Sender {
	return &Sender{gw: gw, queue: queue, cfg: cfg, logger: logger, sleep: time.Sleep}
}

var sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)

// SplitMessage breaks long text into chunks at sentence boundaries,
// falling back to word boundaries for sentences longer than the limit.
// Short messages come back as a single chunk.
func SplitMessage(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return []string{text}
	}

	marked := sentenceBoundary.ReplaceAllString(text, "$1\n")
	sentences := strings.Split(marked, "\n")

	var chunks []string
	current := ""
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if len(sentence) > maxChars {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			buf := ""
			for _, w := range strings.Fields(sentence) {
				if buf != "" && len(buf)+1+len(w) > maxChars {
					chunks = append(chunks, buf)
					buf = w
				} else if buf == "" {
					buf = w
				} else {
					buf = buf + " " + w
				}
			}
			current = buf
			continue
		}
		if current != "" && len(current)+1+len(sentence) > maxChars {
			chunks = append(chunks, current)
			current = sentence
		} else if current == "" {
			current = sentence
		} else {
			current = current + " " + sentence
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// typingDelay estimates how long a human would take to type the chunk.
// Adds up to 20 percent jitter either way, clamped to the configured
// bounds so the contact never waits absurdly long.
func (s *Sender) typingDelay(textLen int) time.Duration {
	base := time.Duration(textLen*s.cfg.TypingMsPerChar) * time.Millisecond
	jitter := time.Duration(float64(base) * (rand.Float64()*0.4 - 0.2))
	delay := base + jitter

	min := time.Duration(s.cfg.TypingMinMs) * time.Millisecond
	max := time.Duration(s.cfg.TypingMaxMs) * time.Millisecond
	if delay < min {
		return min
	}
	if delay > max {
		return max
	}
	return delay
}

func (s *Sender) pauseBetweenChunks() time.Duration {
	min := time.Duration(s.cfg.ChunkPauseMinMs) * time.Millisecond
	max := time.Duration(s.cfg.ChunkPauseMaxMs) * time.Millisecond
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// ReadDelay is how long the bot pretends to read the inbound message
// before the typing indicator appears.
func (s *Sender) ReadDelay() time.Duration {
	min := time.Duration(s.cfg.ReadDelayMinMs) * time.Millisecond
	max := time.Duration(s.cfg.ReadDelayMaxMs) * time.Millisecond
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// SendText delivers a reply split into chunks with typing simulation.
// A failed chunk parks itself and everything after it on the retry queue;
// returns true only when every chunk went out.
func (s *Sender) SendText(ctx context.Context, instance, tenantID, accountID, phone, text string) bool {
	chunks := SplitMessage(text, s.cfg.SplitMaxChars)

	for i, chunk := range chunks {
		s.simulateTyping(ctx, instance, phone, len(chunk))

		if _, err := s.gw.SendText(ctx, instance, phone, chunk); err != nil {
			remaining := strings.Join(chunks[i:], " ")
			s.logger.WithError(err).WithFields(logrus.Fields{
				"instance": instance,
				"phone":    privacy.MaskPhone(phone),
			}).Warn("Send failed, parking reply on retry queue")
			if qErr := s.queue.QueueFailed(ctx, tenantID, accountID, phone, remaining, err.Error()); qErr != nil {
				s.logger.WithError(qErr).Error("Failed to queue undelivered reply")
			}
			return false
		}

		if i < len(chunks)-1 {
			s.sleep(s.pauseBetweenChunks())
		}
	}
	return true
}

// SendAudio delivers a voice-note reply, falling back to split text when
// nothing was synthesized or the audio send fails.
func (s *Sender) SendAudio(ctx context.Context, instance, tenantID, accountID, phone, text, audioBase64 string) bool {
	if audioBase64 == "" {
		return s.SendText(ctx, instance, tenantID, accountID, phone, text)
	}

	if err := s.gw.SetPresence(ctx, instance, phone, gateway.PresenceComposing, 1500); err == nil {
		s.sleep(1500 * time.Millisecond)
	}

	if _, err := s.gw.SendAudio(ctx, instance, phone, audioBase64); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"instance": instance,
			"phone":    privacy.MaskPhone(phone),
		}).Warn("Audio send failed, falling back to text")
		return s.SendText(ctx, instance, tenantID, accountID, phone, text)
	}
	return true
}

func (s *Sender) simulateTyping(ctx context.Context, instance, phone string, textLen int) {
	delay := s.typingDelay(textLen)
	if err := s.gw.SetPresence(ctx, instance, phone, gateway.PresenceComposing, int(delay.Milliseconds())); err != nil {
		// Presence is cosmetic; the reply still goes out.
		s.logger.WithError(err).Debug("Typing indicator failed")
	}
	s.sleep(delay)
	if err := s.gw.SetPresence(ctx, instance, phone, gateway.PresencePaused, 0); err != nil {
		s.logger.WithError(err).Debug("Typing indicator reset failed")
	}
}
