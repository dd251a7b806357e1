package detector

import (
	"sync"

	"github.com/ajramos/mailguard/internal/trust"
)

// Phase is the orchestration step of the open message
type Phase int

const (
	Idle Phase = iota
	CheckingAuth
	Loading
	Rendered
	Failed
)

func (p Phase) String() string {
	switch p {
	case CheckingAuth:
		return "checking-auth"
	case Loading:
		return "loading"
	case Rendered:
		return "rendered"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// State is everything the orchestrator shares between its workers
type State struct {
	mu        sync.Mutex
	current   string
	phase     Phase
	dismissed string
	inFlight  map[string]bool
	trusted   *trust.Set
	language  string
}

// NewState creates an idle state
func NewState(lists trust.Lists, language string) *State {
	if language == "" {
		language = "en"
	}
	return &State{
		inFlight: make(map[string]bool),
		trusted:  trust.New(lists),
		language: language,
	}
}

// Current returns the open message id
func (s *State) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent makes id the open message and returns the previous one.
// Moving to another message forgets the dismissal.
func (s *State) SetCurrent(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	if id != prev {
		s.current = id
		s.phase = Idle
		s.dismissed = ""
	}
	return prev
}

// ClearCurrent forgets the open message
func (s *State) ClearCurrent() {
	s.SetCurrent("")
}

// IsCurrent reports whether id is the open message
func (s *State) IsCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id != "" && s.current == id
}

// Phase returns the step of the open message
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase records the step reached for id when it is still open
func (s *State) SetPhase(id string, p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" || s.current != id {
		return false
	}
	s.phase = p
	return true
}

// Dismiss marks the open message as closed by the user
func (s *State) Dismiss() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed = s.current
	return s.current
}

// Undismiss forgets a dismissal of id
func (s *State) Undismiss(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissed == id {
		s.dismissed = ""
	}
}

// Dismissed reports whether the user closed the banner of id
func (s *State) Dismissed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id != "" && s.dismissed == id
}

// BeginAnalysis claims id for analysis; false when one is already running
func (s *State) BeginAnalysis(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

// EndAnalysis releases id
func (s *State) EndAnalysis(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// InFlight reports whether id is being analyzed
func (s *State) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[id]
}

// Trusts reports whether sender is trusted
func (s *State) Trusts(sender string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trusted.Trusts(sender)
}

// ReplaceTrust swaps the trust lists. Nil lists keep the current ones.
func (s *State) ReplaceTrust(senders, domains []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.trusted.Lists()
	if senders != nil {
		cur.Senders = senders
	}
	if domains != nil {
		cur.Domains = domains
	}
	s.trusted = trust.New(cur)
}

// Language returns the display language
func (s *State) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// SetLanguage changes the display language
func (s *State) SetLanguage(lang string) {
	if lang == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
}
