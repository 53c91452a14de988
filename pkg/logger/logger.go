package logger

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	jww "github.com/spf13/jwalterweatherman"
)

var debugEnabled atomic.Bool

func init() {
	jww.SetStdoutThreshold(jww.LevelInfo)
	SetEnvironment(os.Getenv("ENVIRONMENT"))
}

// SetEnvironment toggles debug output. Only "development" enables it.
func SetEnvironment(env string) {
	if env == "development" {
		debugEnabled.Store(true)
		jww.SetStdoutThreshold(jww.LevelDebug)
		return
	}
	debugEnabled.Store(false)
	jww.SetStdoutThreshold(jww.LevelInfo)
}

func Info(format string, v ...interface{}) {
	jww.INFO.Printf(format, v...)
}

func Error(format string, v ...interface{}) {
	jww.ERROR.Printf(format, v...)
}

func Debug(format string, v ...interface{}) {
	if debugEnabled.Load() {
		jww.DEBUG.Printf(format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	jww.WARN.Printf(format, v...)
}

// WithContext prefixes a message with the caller location and an optional context value.
func WithContext(ctx interface{}, format string, v ...interface{}) string {
	_, file, line, _ := runtime.Caller(1)
	contextStr := fmt.Sprintf("%v:%d", file, line)
	if ctx != nil {
		contextStr = fmt.Sprintf("%v - %v", contextStr, ctx)
	}
	return fmt.Sprintf("[%s] %s", contextStr, fmt.Sprintf(format, v...))
}

// LogConversationError records a failure tied to one buyer/seller conversation.
func LogConversationError(buyerID, sellerID int64, action string, err error) {
	Warn("Conversation error: action=%s, buyer=%d, seller=%d, error=%v", action, buyerID, sellerID, err)
}
