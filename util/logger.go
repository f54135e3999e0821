package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	currentLevel atomic.Int32
	logger       atomic.Pointer[log.Logger]
)

func init() {
	currentLevel.Store(int32(LogLevelInfo))
	SetOutput(os.Stderr)
}

func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

// SetOutput redirects every log line to w.
func SetOutput(w io.Writer) {
	logger.Store(log.New(w, "", log.LstdFlags|log.Lmicroseconds))
}

// Enabled reports whether messages at level are written.
func Enabled(level LogLevel) bool {
	return LogLevel(currentLevel.Load()) <= level
}

func logf(level LogLevel, tag, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}
	_ = logger.Load().Output(3, tag+fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) {
	logf(LogLevelDebug, "[DEBUG] ", format, v...)
}

func Info(format string, v ...interface{}) {
	logf(LogLevelInfo, "[INFO] ", format, v...)
}

func Warn(format string, v ...interface{}) {
	logf(LogLevelWarn, "[WARN] ", format, v...)
}

func Error(format string, v ...interface{}) {
	logf(LogLevelError, "[ERROR] ", format, v...)
}

func Fatal(format string, v ...interface{}) {
	_ = logger.Load().Output(2, "[FATAL] "+fmt.Sprintf(format, v...))
	os.Exit(1)
}
