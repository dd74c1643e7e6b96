// Package logging wires the named loggers used across hKV onto dragonboat's logger package.
//
// Packages obtain their logger once with logger.GetLogger(name) and keep it in a package level
// variable. Init installs the hKV formatting factory and sets the level of every known logger.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// Names of the loggers used by hKV packages
const (
	Engine      = "hybridlog"
	Coordinator = "coordinator"
	Store       = "store"
	LockMgr     = "lockmgr"
	CLI         = "cli"
)

// Names lists every logger configured by Init
var Names = []string{Engine, Coordinator, Store, LockMgr, CLI}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// hKVLogger implements the ILogger interface with custom formatting
type hKVLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *hKVLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *hKVLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *hKVLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *hKVLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *hKVLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *hKVLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *hKVLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message
func (l *hKVLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements dragonboat's logger.Factory. Output goes to stderr so that commands
// printing data to stdout (export, inspect) stay pipeable.
func CreateLogger(pkgName string) logger.ILogger {
	l := &hKVLogger{
		name:   pkgName,
		logger: log.New(os.Stderr, "", log.Ldate|log.Ltime),
	}
	l.level.Store(int32(logger.WARNING))
	return l
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLevel converts a string level to logger.LogLevel
func ParseLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// Init installs the hKV logger factory and sets the level of all hKV loggers
func Init(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range Names {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
