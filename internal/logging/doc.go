// Package logging provides the types.Logger implementations used inside
// sharedtrain: a log/slog adapter, a no-op logger and a testing.T logger.
package logging
