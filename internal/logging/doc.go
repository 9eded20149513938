// Package logging sets up structured logging for the SwiftSearch mediator.
//
// Logs are written as JSON to a size-rotated file under ~/.swiftsearch/logs/ and,
// optionally, to stderr. Nothing is ever written to stdout: in serve mode stdout
// carries the host channel and a stray log line would corrupt the frame stream.
package logging
