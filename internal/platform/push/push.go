// Package push delivers notifications to a user's registered devices. Sends
// are best-effort: failures are logged and counted, never returned to the
// caller, and a user with no registered devices is a silent no-op.
package push

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers a single message to a single device token. The concrete
// transport (FCM, APNS, ...) lives behind this interface.
type Sender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// TokenStore persists registered device tokens per user.
type TokenStore interface {
	Register(ctx context.Context, userID uuid.UUID, token, platform string) error
	Unregister(ctx context.Context, token string) error
	TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Notifier is the capability domain code depends on.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string)
}

// Gateway fans a notification out to every device registered for a user.
type Gateway struct {
	tokens TokenStore
	sender Sender
	logger zerolog.Logger
}

func NewGateway(tokens TokenStore, sender Sender, logger zerolog.Logger) *Gateway {
	return &Gateway{tokens: tokens, sender: sender, logger: logger}
}

// Notify sends title/body/data to all of the user's devices. Each send is
// attempted independently; one failing device does not stop the others.
func (g *Gateway) Notify(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) {
	tokens, err := g.tokens.TokensForUser(ctx, userID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID.String()).Msg("load device tokens")
		return
	}
	if len(tokens) == 0 {
		g.logger.Debug().Str("user_id", userID.String()).Msg("no device tokens registered")
		return
	}

	sent, failed := 0, 0
	for _, token := range tokens {
		if err := g.sender.Send(ctx, token, title, body, data); err != nil {
			failed++
			g.logger.Error().Err(err).
				Str("user_id", userID.String()).
				Msg("push send failed")
			continue
		}
		sent++
	}

	g.logger.Info().
		Str("user_id", userID.String()).
		Str("title", title).
		Int("sent", sent).
		Int("failed", failed).
		Msg("notification dispatched")
}

// LogSender is the default Sender when no push transport is configured; it
// records the message in the log and succeeds.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	s.Logger.Info().
		Str("token", token).
		Str("title", title).
		Str("body", body).
		Interface("data", data).
		Msg("push (log transport)")
	return nil
}

// SentMessage records a single delivery attempt made through MockSender.
type SentMessage struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	messages   []SentMessage
	FailTokens map[string]error
}

func (m *MockSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailTokens[token]; ok {
		return err
	}
	m.messages = append(m.messages, SentMessage{Token: token, Title: title, Body: body, Data: data})
	return nil
}

// Messages returns a copy of successfully recorded sends.
func (m *MockSender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// MemoryTokenStore is an in-memory TokenStore used in tests and development.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID][]string
	owner  map[string]uuid.UUID
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		byUser: make(map[uuid.UUID][]string),
		owner:  make(map[string]uuid.UUID),
	}
}

func (s *MemoryTokenStore) Register(_ context.Context, userID uuid.UUID, token, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.owner[token]; exists {
		return nil
	}
	s.owner[token] = userID
	s.byUser[userID] = append(s.byUser[userID], token)
	return nil
}

func (s *MemoryTokenStore) Unregister(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.owner[token]
	if !ok {
		return nil
	}
	delete(s.owner, token)
	tokens := s.byUser[userID]
	for i, t := range tokens {
		if t == token {
			s.byUser[userID] = append(tokens[:i], tokens[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryTokenStore) TokensForUser(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := s.byUser[userID]
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out, nil
}
