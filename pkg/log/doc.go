// Package log provides protocol tracing for the CPC host library.
//
// Tracing is separate from operational logging (slog). A Logger receives
// one Event per frame, decoded control-protocol message, endpoint or session
// state change, keep-alive control message and protocol error, so a whole
// session can be replayed offline.
//
// # Basic Usage
//
//	// Development: trace to the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: append CBOR events to a trace file
//	fl, _ := log.NewFileLogger("/var/log/cpc/app.clog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Trace files are a plain concatenation of CBOR-encoded events with integer
// keys. Reader streams them back with optional filtering. A FileLogger can
// split a long-running session into one file per generation:
//
//	fl, _ := log.NewFileLoggerWithOptions("/var/log/cpc/app.clog",
//		log.FileLoggerOptions{SplitGenerations: true})
//	// app.clog, app.gen1.clog, app.gen2.clog, ...
package log
