// ABOUTME: Fallback policies choosing a conversation for starts that name none.
// ABOUTME: MostRecentActive is best-effort and may misattribute overlapping conversations.

package correlate

import (
	"time"
)

// Kind is the origin of a conversation.
type Kind string

const (
	KindClient Kind = "client"
	KindServer Kind = "server"
)

// Candidate is the view of an existing conversation a Policy chooses from.
type Candidate struct {
	ID        string
	Kind      Kind
	Active    bool
	Model     string
	StartedAt time.Time
}

// Choice is a Policy decision. When Create is set the conversation does not
// exist yet and the caller must create it with ID and Kind.
type Choice struct {
	ID     string
	Kind   Kind
	Create bool
}

// Policy picks conversations for starts that carry no usable client id.
type Policy interface {
	// ForChat chooses the conversation for a chat start on model.
	ForChat(candidates []Candidate, model string) Choice
	// ForOperation chooses the conversation for an embedding or summarize
	// start. prefix names the operation kind.
	ForOperation(candidates []Candidate, prefix, requestID string) Choice
	// ForOrphanStream chooses a conversation for a stream that was never
	// bound. ok is false when nothing fits.
	ForOrphanStream(candidates []Candidate) (id string, ok bool)
}

// MostRecentActive attaches unbound work to the most recently started
// active client conversation, falling back to server conversations keyed by
// model or request.
//
// Under concurrent overlapping client conversations it can attribute a chat
// to the wrong one. Callers that need precision pass an explicit client id.
type MostRecentActive struct{}

// ForChat prefers the most recent active client conversation that has no
// model yet, then an existing server conversation for the same model, and
// finally a new server conversation named server-<model>.
func (MostRecentActive) ForChat(candidates []Candidate, model string) Choice {
	if c, ok := mostRecent(candidates, func(c Candidate) bool {
		return c.Kind == KindClient && c.Active && c.Model == ""
	}); ok {
		return Choice{ID: c.ID, Kind: c.Kind}
	}
	if c, ok := mostRecent(candidates, func(c Candidate) bool {
		return c.Kind == KindServer && c.Model == model
	}); ok {
		return Choice{ID: c.ID, Kind: c.Kind}
	}
	return Choice{ID: "server-" + model, Kind: KindServer, Create: true}
}

// ForOperation prefers the most recent active client conversation and
// otherwise creates <prefix>-<requestID>.
func (MostRecentActive) ForOperation(candidates []Candidate, prefix, requestID string) Choice {
	if c, ok := mostRecent(candidates, activeClient); ok {
		return Choice{ID: c.ID, Kind: c.Kind}
	}
	return Choice{ID: prefix + "-" + requestID, Kind: KindServer, Create: true}
}

// ForOrphanStream returns the most recent active client conversation.
func (MostRecentActive) ForOrphanStream(candidates []Candidate) (string, bool) {
	c, ok := mostRecent(candidates, activeClient)
	return c.ID, ok
}

func activeClient(c Candidate) bool {
	return c.Kind == KindClient && c.Active
}

// mostRecent returns the latest-started candidate matching keep. Ties go to
// the earlier entry in candidates.
func mostRecent(candidates []Candidate, keep func(Candidate) bool) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if !keep(c) {
			continue
		}
		if !found || c.StartedAt.After(best.StartedAt) {
			best = c
			found = true
		}
	}
	return best, found
}
