// Package session holds the conversation domain types shared across the
// pipeline and its providers: voices, languages, messages, and the
// per-connection conversation history with optional on-disk persistence.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Voice selects a synthesis voice. The F1-F5/M1-M5 set matches the
// teacher's lokutor provider naming.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language is an STT/LLM/TTS language tag.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Message is one role-tagged conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is a single connection's conversation history. Roles are
// {system, user, assistant}; history is trimmed to the last MaxMessages
// messages after every append, matching the teacher's ConversationSession.
type Session struct {
	mu              sync.RWMutex
	ID              string
	History         []Message
	MaxMessages     int
	CurrentVoice    Voice
	CurrentLanguage Language
	lastUser        string
	lastAssistant   string
}

// New creates a session with the given id and sane defaults.
func New(id string) *Session {
	return &Session{
		ID:              id,
		History:         []Message{},
		MaxMessages:     20,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
	}
}

// AddMessage appends a turn and trims history to MaxMessages.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, Message{Role: role, Content: content})
	if len(s.History) > s.MaxMessages {
		s.History = s.History[len(s.History)-s.MaxMessages:]
	}
	switch role {
	case RoleUser:
		s.lastUser = content
	case RoleAssistant:
		s.lastAssistant = content
	}
}

// PopLast removes the most recently appended message. Used by the
// pipeline to roll back the user turn it added when the LLM call fails,
// so history stays consistent (spec.md §4.5).
func (s *Session) PopLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.History) == 0 {
		return
	}
	s.History = s.History[:len(s.History)-1]
}

// SetSystemPrompt appends a system-role message (the fixed preamble).
func (s *Session) SetSystemPrompt(prompt string) {
	s.AddMessage(RoleSystem, prompt)
}

// ContextCopy returns a defensive copy of the history for an LLM call.
func (s *Session) ContextCopy() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.History))
	copy(out, s.History)
	return out
}

// Len reports the number of messages currently retained.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.History)
}

// Clear drops all history but keeps any system preamble messages.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Message, 0, len(s.History))
	for _, m := range s.History {
		if m.Role == RoleSystem {
			kept = append(kept, m)
		}
	}
	s.History = kept
	s.lastUser = ""
	s.lastAssistant = ""
}

func (s *Session) Voice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentVoice
}

func (s *Session) SetVoice(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentVoice = v
}

func (s *Session) Lang() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentLanguage
}

func (s *Session) SetLang(l Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentLanguage = l
}

func (s *Session) LastUserMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUser
}

func (s *Session) LastAssistantMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAssistant
}

// persisted is the on-disk JSON shape for a saved session, matching
// spec.md §6's sessions/<session_id>.json schema.
type persisted struct {
	SessionID string    `json:"session_id"`
	History   []Message `json:"history"`
	SavedAt   time.Time `json:"saved_at"`
}

// Save writes the session history to dir/<id>.json.
func (s *Session) Save(dir string) error {
	s.mu.RLock()
	p := persisted{
		SessionID: s.ID,
		History:   append([]Message(nil), s.History...),
		SavedAt:   time.Now(),
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(dir, s.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	return nil
}

// Load reads dir/<id>.json into a new session's history. Absence of the
// file is not an error (spec.md §4.5) — Load returns a fresh session
// with found=false and a nil error.
func Load(id, dir string) (*Session, bool, error) {
	path := filepath.Join(dir, id+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(id), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session %s: %w", id, err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("unmarshal session %s: %w", id, err)
	}

	sess := New(id)
	sess.History = p.History
	for _, m := range p.History {
		switch m.Role {
		case RoleUser:
			sess.lastUser = m.Content
		case RoleAssistant:
			sess.lastAssistant = m.Content
		}
	}
	return sess, true, nil
}
