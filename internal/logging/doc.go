// Package logging builds the slog.Logger used by the agentloop command.
package logging
