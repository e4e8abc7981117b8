// Package logger provides structured logging for objmesh.
//
// It wraps log/slog with a process-wide level that can be changed at
// runtime (the serve command reloads it when the config file changes) and
// a ReplaceAttr hook that keeps field payloads and secrets out of logs.
// Session and peer ids tagged onto a context with WithSessionID and
// WithPeerID are added to every record logged with that context.
//
// @req RQ-0402
// @design DS-0502
package logger
