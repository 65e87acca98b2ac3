// Package logger provides structured leveled logging for the ingestion
// pipeline. Output format and level are configured once at startup.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	currentLevel atomic.Int32
	jsonFormat   atomic.Bool
)

func init() {
	currentLevel.Store(int32(levelInfo))
}

// Configure sets the global log level ("debug", "info", "warn", "error")
// and output format ("json" or "text").
func Configure(lvl, format string) {
	switch strings.ToLower(lvl) {
	case "debug":
		currentLevel.Store(int32(levelDebug))
	case "warn", "warning":
		currentLevel.Store(int32(levelWarn))
	case "error":
		currentLevel.Store(int32(levelError))
	default:
		currentLevel.Store(int32(levelInfo))
	}
	jsonFormat.Store(strings.EqualFold(format, "json"))
}

// Debug logs debug messages
func Debug(msg string, fields ...Field) {
	logStructured(levelDebug, "DEBUG", msg, fields...)
}

// Info logs informational messages
func Info(msg string, fields ...Field) {
	logStructured(levelInfo, "INFO", msg, fields...)
}

// Warn logs warning messages
func Warn(msg string, fields ...Field) {
	logStructured(levelWarn, "WARN", msg, fields...)
}

// Error logs error messages
func Error(msg string, fields ...Field) {
	logStructured(levelError, "ERROR", msg, fields...)
}

func logStructured(lvl level, name, msg string, fields ...Field) {
	if lvl < level(currentLevel.Load()) {
		return
	}

	if jsonFormat.Load() {
		logEntry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"level":     name,
			"message":   msg,
		}
		for _, field := range fields {
			logEntry[field.Key] = field.Value
		}
		jsonData, _ := json.Marshal(logEntry)
		log.Println(string(jsonData))
		return
	}

	fieldStr := ""
	for _, field := range fields {
		fieldStr += fmt.Sprintf(" %s=%v", field.Key, field.Value)
	}
	log.Printf("%s: %s%s", name, msg, fieldStr)
}

// Helper functions for common field types
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Err(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}
