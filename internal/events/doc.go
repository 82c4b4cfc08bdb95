// Package events defines the observability events emitted while a tool loop
// runs and consumed by the conversation store.
//
// # Variants
//
// Each topic has its own struct embedding Meta, the shared correlation
// header. Validate enforces the fields each topic needs: stream events carry
// a streamId, chat and usage events a requestId, client events a clientId,
// and every event a timestamp.
//
// # Wire envelope
//
//	{"type": "stream:chunk:content", "payload": {"streamId": "...", "content": "Hi", "timestamp": 1700000000000}}
//
// Decode rejects unknown topics and invalid payloads before any consumer sees
// them.
//
// # Bus
//
// Bus delivers each published event to synchronous handlers registered with
// On, in registration order, and then to buffered channel subscribers. A full
// subscriber channel drops the event for that subscriber only.
package events
