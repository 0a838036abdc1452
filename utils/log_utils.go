package utils

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

var (
	debug  bool
	hasLog bool
	sugar  = zap.NewNop().Sugar()
	prefix = func(level string) string {
		_, file, line, _ := runtime.Caller(2)
		fileAsPaths := strings.Split(file, "/")
		return fmt.Sprintf("[%s] [%s:%d]", level, fileAsPaths[len(fileAsPaths)-1], line)
	}
)

func init() {
	debug = os.Getenv("DEBUG") != ""
}

// SetLogger routes the package helpers through the given zap logger.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	sugar = logger.Sugar()
	hasLog = true
}

// LogInfo example:
//
// LogInfo("timezone %s", timezone)
//
func LogInfo(msg string, vars ...interface{}) {
	sugar.Infof(strings.Join([]string{prefix("INFO"), msg}, " "), vars...)
}

// LogDebug only prints when DEBUG is set.
func LogDebug(msg string, vars ...interface{}) {
	if debug {
		sugar.Debugf(strings.Join([]string{prefix("DEBUG"), msg}, " "), vars...)
	}
}

// LogError is a no-op for a nil error, so callers can wrap calls directly:
//
// LogError(store.PutIndexTemplate())
//
func LogError(err error) {
	if err == nil {
		return
	}
	sugar.Errorf("%s %s", prefix("ERROR"), err)
}

// LogFatal example:
//
// LogFatal(errors.New("db timezone must be UTC"))
//
// Before SetLogger it writes through the standard logger.
func LogFatal(err error) {
	if !hasLog {
		_, file, line, _ := runtime.Caller(1)
		log.Fatalf("[FATAL] %s [%s:%d]", err, file, line)
	}
	sugar.Fatalf("%s %s", prefix("FATAL"), err)
}
