// Package merge consolidates bursts of streamed text into compact chunk
// histories. The functions are pure: callers own the slices they pass in and
// always receive a fresh slice back.
package merge
