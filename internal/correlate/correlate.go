// ABOUTME: Maps stream and request ids to the conversation they belong to.
// ABOUTME: Bindings are made when a chat or operation starts and cleared only in bulk.

package correlate

import (
	"sync"
)

// Correlator holds the stream-scoped and request-scoped lookup tables.
type Correlator struct {
	mu       sync.RWMutex
	streams  map[string]string
	requests map[string]string
	policy   Policy
}

// New creates a Correlator using policy for unbound starts. A nil policy
// selects MostRecentActive.
func New(policy Policy) *Correlator {
	if policy == nil {
		policy = MostRecentActive{}
	}
	return &Correlator{
		streams:  make(map[string]string),
		requests: make(map[string]string),
		policy:   policy,
	}
}

// Policy returns the fallback policy.
func (c *Correlator) Policy() Policy {
	return c.policy
}

// Bind records conversationID for both ids. Empty ids are ignored.
func (c *Correlator) Bind(streamID, requestID, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if streamID != "" {
		c.streams[streamID] = conversationID
	}
	if requestID != "" {
		c.requests[requestID] = conversationID
	}
}

// BindStream records conversationID for a stream id.
func (c *Correlator) BindStream(streamID, conversationID string) {
	c.Bind(streamID, "", conversationID)
}

// BindRequest records conversationID for a request id.
func (c *Correlator) BindRequest(requestID, conversationID string) {
	c.Bind("", requestID, conversationID)
}

// ResolveStream returns the conversation bound to streamID.
func (c *Correlator) ResolveStream(streamID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.streams[streamID]
	return id, ok
}

// ResolveRequest returns the conversation bound to requestID.
func (c *Correlator) ResolveRequest(requestID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.requests[requestID]
	return id, ok
}

// Resolve tries the stream table first and then the request table.
func (c *Correlator) Resolve(streamID, requestID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if streamID != "" {
		if id, ok := c.streams[streamID]; ok {
			return id, true
		}
	}
	if requestID != "" {
		if id, ok := c.requests[requestID]; ok {
			return id, true
		}
	}
	return "", false
}

// Len returns the sizes of the stream and request tables.
func (c *Correlator) Len() (streams, requests int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.streams), len(c.requests)
}

// Reset drops every binding.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.streams)
	clear(c.requests)
}
