package clubperm

import "github.com/hdcn/clubperm/logger"

// Logger is re-exported so callers configuring the engine do not need to
// import the logger package directly.
type Logger = logger.Logger

// TraceIDFunc is re-exported alongside Logger.
type TraceIDFunc = logger.TraceIDFunc
