// Package authz decides which UI surfaces exist for the current session.
//
// It is a presentation gate only. Mutating operations check the same
// predicate again on their own.
package authz

// SessionState is the part of the session the gate reads.
type SessionState interface {
	IsAuthenticated() bool
}

// Kind classifies a surface.
type Kind string

const (
	KindAction Kind = "action"
	KindColumn Kind = "column"
	KindRoute  Kind = "route"
)

// Access names who may see a surface.
type Access string

const (
	AccessPublic        Access = "public"
	AccessAuthenticated Access = "authenticated"
	// AccessGuest surfaces exist only without a session, e.g. the login screen.
	AccessGuest Access = "guest"
)

// Surface is a static descriptor of a button, column or route.
type Surface struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Access Access `json:"access"`
}

// Visible is the pure visibility function. Unknown access levels are hidden.
func Visible(authenticated bool, s Surface) bool {
	switch s.Access {
	case AccessPublic:
		return true
	case AccessAuthenticated:
		return authenticated
	case AccessGuest:
		return !authenticated
	default:
		return false
	}
}

// Gate evaluates visibility against live session state. It caches nothing.
type Gate struct {
	session SessionState
}

func NewGate(session SessionState) *Gate {
	return &Gate{session: session}
}

// CanMutate reports whether add/edit/delete affordances exist.
func (g *Gate) CanMutate() bool {
	return g.session.IsAuthenticated()
}

// CanViewLoginScreen is true only without a session.
func (g *Gate) CanViewLoginScreen() bool {
	return !g.session.IsAuthenticated()
}

// Render drops every surface that is not visible. The result is never nil.
func (g *Gate) Render(surfaces []Surface) []Surface {
	authenticated := g.session.IsAuthenticated()
	out := make([]Surface, 0, len(surfaces))
	for _, s := range surfaces {
		if Visible(authenticated, s) {
			out = append(out, s)
		}
	}
	return out
}

// ResolveRoute maps a requested route to the one that should be shown.
// Authenticated users asking for the login route go to landing; guests asking
// for an authenticated-only route go to login.
func (g *Gate) ResolveRoute(route, loginRoute, landing string) (string, bool) {
	if route == loginRoute {
		if g.CanViewLoginScreen() {
			return route, false
		}
		return landing, true
	}
	if r, ok := routes[route]; ok && !Visible(g.session.IsAuthenticated(), r) {
		return loginRoute, true
	}
	return route, false
}
