// Package correlate resolves the conversation an event belongs to.
//
// Events carry a streamId, a requestId, or both. Both are bound to a
// conversation when a chat starts, and request ids alone are bound when an
// embedding or summarize operation starts. Events whose ids were never bound
// resolve to nothing and are dropped by the caller.
//
// When a start names no known client conversation, a Policy decides where it
// goes. MostRecentActive is the default and is deliberately loose.
package correlate
