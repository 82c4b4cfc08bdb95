// ABOUTME: JSON envelope codec for events: {"type": <topic>, "payload": {...}}.
// ABOUTME: Decode reads the topic with gjson, unmarshals the matching struct and validates it.

package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrUnknownTopic indicates an envelope whose type is not a known topic.
var ErrUnknownTopic = errors.New("unknown event topic")

// ErrMalformed indicates an envelope that is not valid JSON or lacks a payload.
var ErrMalformed = errors.New("malformed event")

type envelope struct {
	Type    Topic `json:"type"`
	Payload Event `json:"payload"`
}

func decodeAs[T Event](payload []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

var decoders = map[Topic]func([]byte) (Event, error){
	TopicStreamStarted:       decodeAs[StreamStarted],
	TopicChunkContent:        decodeAs[ChunkContent],
	TopicChunkToolCall:       decodeAs[ChunkToolCall],
	TopicChunkToolResult:     decodeAs[ChunkToolResult],
	TopicChunkThinking:       decodeAs[ChunkThinking],
	TopicChunkDone:           decodeAs[ChunkDone],
	TopicChunkError:          decodeAs[ChunkError],
	TopicApprovalRequested:   decodeAs[ApprovalRequested],
	TopicStreamEnded:         decodeAs[StreamEnded],
	TopicToolCallCompleted:   decodeAs[ToolCallCompleted],
	TopicToolResultAdded:     decodeAs[ToolResultAdded],
	TopicApprovalResponded:   decodeAs[ApprovalResponded],
	TopicChatStarted:         decodeAs[ChatStarted],
	TopicChatCompleted:       decodeAs[ChatCompleted],
	TopicChatIteration:       decodeAs[ChatIteration],
	TopicUsageTokens:         decodeAs[UsageTokens],
	TopicEmbeddingStarted:    decodeAs[EmbeddingStarted],
	TopicEmbeddingCompleted:  decodeAs[EmbeddingCompleted],
	TopicSummarizeStarted:    decodeAs[SummarizeStarted],
	TopicSummarizeCompleted:  decodeAs[SummarizeCompleted],
	TopicClientCreated:       decodeAs[ClientCreated],
	TopicClientMessageSent:   decodeAs[ClientMessageSent],
	TopicClientMessageAdded:  decodeAs[ClientMessageAppended],
	TopicClientLoading:       decodeAs[ClientLoadingChanged],
	TopicClientStopped:       decodeAs[ClientStopped],
	TopicClientCleared:       decodeAs[ClientMessagesCleared],
	TopicClientReloaded:      decodeAs[ClientReloaded],
	TopicClientErrorChanged:  decodeAs[ClientErrorChanged],
	TopicClientAssistantText: decodeAs[ClientAssistantMessageUpdated],
	TopicClientToolCall:      decodeAs[ClientToolCallUpdated],
	TopicClientApproval:      decodeAs[ClientApprovalRequested],
	TopicProcessorText:       decodeAs[ProcessorTextUpdated],
	TopicProcessorToolCall:   decodeAs[ProcessorToolCallStateChanged],
	TopicProcessorToolResult: decodeAs[ProcessorToolResultStateChanged],
}

// Known reports whether t is a recognized topic.
func Known(t Topic) bool {
	_, ok := decoders[t]
	return ok
}

// Decode parses and validates one event envelope.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	topic := Topic(gjson.GetBytes(data, "type").String())
	decode, ok := decoders[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	payload := gjson.GetBytes(data, "payload")
	if !payload.IsObject() {
		return nil, fmt.Errorf("%w: %s: payload must be an object", ErrMalformed, topic)
	}

	ev, err := decode([]byte(payload.Raw))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", topic, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode wraps ev in its envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(envelope{Type: ev.Topic(), Payload: ev})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", ev.Topic(), err)
	}
	return data, nil
}
