/*
Package log provides structured logging for Prism using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("dispatcher")
	logger.Info().Int64("request_id", id).Msg("query dispatched")

Child loggers carry the query-engine correlation fields (request id, server,
stage id) so a single request can be traced across the fan-out, reduce, and
cancel paths.
*/
package log
