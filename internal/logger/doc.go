// Package logger provides leveled, node-tagged logging backed by zerolog.
//
// Every entry carries a timestamp, a level, an optional node tag and a
// printf-style message. Two output shapes are available: JSON lines (New)
// and a plain console layout (NewConsole), which is what the CLI uses
// unless --format json is given.
//
// # Basic Usage
//
//	logger.Info("", "fleet prepared")
//	logger.Warn(logger.Node(2), "write failed: %v", err)
//
//	l := logger.NewConsole(os.Stderr, logger.LevelDebug)
//	logger.SetDefault(l)
//
// # Thread Safety
//
// Loggers are safe for concurrent use; SetLevel may race freely with
// logging calls.
package logger
