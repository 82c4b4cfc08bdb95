// Package chunk defines StreamChunk, the tagged unit of streamed model output,
// and the SSE / NDJSON wire codec used to move chunk sequences between
// processes.
//
// # Types
//
//   - content, thinking: Delta is the suffix added since the previous chunk
//     for the same message; Content is the cumulative text so far.
//   - tool_call: a fragment of one tool call. Fragments with the same Index
//     concatenate their Arguments text.
//   - tool_result: the raw result string of an executed tool.
//   - done: end of one model invocation, with FinishReason and optional Usage.
//   - error: a failure surfaced in-band.
//   - approval: a request for a human decision before a tool runs.
//
// # Wire format
//
// Each chunk is a JSON object with a "type" field. NDJSON puts one object per
// line. SSE wraps each object in a data: frame. The literal [DONE] ends the
// stream in either framing.
package chunk
