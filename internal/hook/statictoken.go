package hook

import "github.com/dantte-lp/goqueen/internal/wire"

// tokenField is the _auth message field carrying the client's credential.
const tokenField = "token"

// Credential is one token the switch accepts, optionally root-capable.
type Credential struct {
	Token string
	Root  bool
}

// StaticTokenHooks is the reference authentication policy: _auth must
// present a known token, and _root=true is only honored when the matching
// credential grants it. Introspection queries stay available to root
// sessions through the embedded IntrospectionHooks.
//
// With no credentials configured it degrades to allow-all, matching
// DefaultHooks, so a daemon without a root section still serves
// unauthenticated-friendly traffic.
type StaticTokenHooks struct {
	IntrospectionHooks

	creds map[string]Credential
}

// NewStaticTokenHooks builds the policy from a credential list.
func NewStaticTokenHooks(creds []Credential) *StaticTokenHooks {
	m := make(map[string]Credential, len(creds))
	for _, c := range creds {
		m[c.Token] = c
	}
	return &StaticTokenHooks{creds: m}
}

// Auth validates the presented token and strips an unearned _root claim.
// The token field itself is removed so it never leaks into the echoed
// reply or the _ctre event.
func (h *StaticTokenHooks) Auth(s SessionView, m *wire.Message) bool {
	if len(h.creds) == 0 {
		return true
	}

	token, ok := m.GetString(tokenField)
	if !ok {
		return false
	}
	cred, known := h.creds[token]
	if !known {
		return false
	}
	m.Del(tokenField)

	if wantRoot, _ := m.GetBool(wire.KeyRoot); wantRoot && !cred.Root {
		return false
	}
	return true
}

var _ Hooks = (*StaticTokenHooks)(nil)
