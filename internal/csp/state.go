package csp

import (
	"log/slog"
	"net/url"
	"sync"
)

// State accumulates the observations of one audit run: per-directive source
// sets, the justification index, inline content, nonces, data: usage and the
// eval flag. It is safe for concurrent use; interceptors record into it from
// foreign goroutines while the settle window is open.
//
// A State belongs to exactly one run and is never shared between audits.
type State struct {
	mu         sync.Mutex
	doc        *url.URL
	tokens     map[Directive][]Token
	seen       map[Directive]map[Token]bool
	reasons    map[Directive]map[Token][]string
	reasonKeys map[Directive][]Token
	inline     []InlineResource
	nonces     []NonceRecord
	dataURIs   []DataURIRecord
	unresolved []string
	eval       bool
}

// NewState returns a State in which every directive holds its baseline token.
func NewState(doc *url.URL) *State {
	s := &State{
		doc:        doc,
		tokens:     make(map[Directive][]Token, len(Directives)),
		seen:       make(map[Directive]map[Token]bool, len(Directives)),
		reasons:    make(map[Directive]map[Token][]string, len(Directives)),
		reasonKeys: make(map[Directive][]Token, len(Directives)),
	}
	for _, d := range Directives {
		base := d.Baseline()
		s.tokens[d] = []Token{base}
		s.seen[d] = map[Token]bool{base: true}
		s.reasons[d] = make(map[Token][]string)
	}
	return s
}

// DocumentURL returns the URL the audited document was loaded from.
func (s *State) DocumentURL() *url.URL {
	return s.doc
}

// Record adds token to the directive's source set unless it is already there,
// and always appends the justification. The inline marker only carries
// justifications and never enters the source set.
func (s *State) Record(d Directive, t Token, justification string) {
	if !d.Valid() || t == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t != Inline && !s.seen[d][t] {
		s.seen[d][t] = true
		s.tokens[d] = append(s.tokens[d], t)
	}
	if justification == "" {
		return
	}
	if _, ok := s.reasons[d][t]; !ok {
		s.reasonKeys[d] = append(s.reasonKeys[d], t)
	}
	s.reasons[d][t] = append(s.reasons[d][t], justification)
}

// AddInline collects an inline script or style body for finalization.
func (s *State) AddInline(r InlineResource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inline = append(s.inline, r)
}

// AddNonce records a nonce attribute. Values that are not a CSP
// base64-value are dropped.
func (s *State) AddNonce(n NonceRecord) {
	if n.Value == "" {
		return
	}
	if !ValidNonce(n.Value) {
		slog.Debug("dropping malformed nonce", "kind", n.Kind, "value", n.Value)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces = append(s.nonces, n)
}

// AddDataURI records a data: dependency.
func (s *State) AddDataURI(r DataURIRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataURIs = append(s.dataURIs, r)
}

// AddUnresolved notes a URL that was dropped because its origin could not be
// resolved.
func (s *State) AddUnresolved(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unresolved = append(s.unresolved, raw)
}

// MarkEval sets the eval flag. The flag never resets.
func (s *State) MarkEval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eval = true
}

// EvalUsed reports whether dynamic evaluation was observed.
func (s *State) EvalUsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eval
}

// Tokens returns a copy of the directive's source set in insertion order.
func (s *State) Tokens(d Directive) []Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Token, len(s.tokens[d]))
	copy(out, s.tokens[d])
	return out
}

// Justifications returns a copy of the explanations recorded for (d, t).
func (s *State) Justifications(d Directive, t Token) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.reasons[d][t]
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// HasNonce reports whether a nonce was observed for the given inline kind.
func (s *State) HasNonce(kind InlineKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nonces {
		if s.nonces[i].Kind == kind {
			return true
		}
	}
	return false
}

// Reason groups the justifications recorded for one token.
type Reason struct {
	Token   Token    `json:"source"`
	Entries []string `json:"entries"`
}

// DirectiveState is the copied state of one directive.
type DirectiveState struct {
	Directive Directive `json:"directive"`
	Sources   []Token   `json:"sources"`
	Reasons   []Reason  `json:"reasons,omitempty"`
	Emitted   bool      `json:"emitted"`
}

// Snapshot is a consistent copy of the whole State.
type Snapshot struct {
	Directives []DirectiveState `json:"directives"`
	Inline     []InlineResource `json:"inline,omitempty"`
	Nonces     []NonceRecord    `json:"nonces,omitempty"`
	DataURIs   []DataURIRecord  `json:"dataUris,omitempty"`
	Unresolved []string         `json:"unresolved,omitempty"`
	Eval       bool             `json:"eval"`
}

// Snapshot copies the State under a single lock so no directive is torn.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Directives: make([]DirectiveState, 0, len(Directives)),
		Inline:     append([]InlineResource(nil), s.inline...),
		Nonces:     append([]NonceRecord(nil), s.nonces...),
		DataURIs:   append([]DataURIRecord(nil), s.dataURIs...),
		Unresolved: append([]string(nil), s.unresolved...),
		Eval:       s.eval,
	}
	for _, d := range Directives {
		ds := DirectiveState{
			Directive: d,
			Sources:   append([]Token(nil), s.tokens[d]...),
		}
		for _, t := range s.reasonKeys[d] {
			ds.Reasons = append(ds.Reasons, Reason{
				Token:   t,
				Entries: append([]string(nil), s.reasons[d][t]...),
			})
		}
		snap.Directives = append(snap.Directives, ds)
	}
	return snap
}
