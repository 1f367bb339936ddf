package internal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// FieldKey names a structured log field. Server and client code pick from the
// constants below so the same value is always logged under the same key; ad hoc
// keys such as FieldKey("mtu") are fine for one-off values.
type FieldKey string

const (
	FieldError     FieldKey = "error"
	FieldAddr      FieldKey = "addr"
	FieldPort      FieldKey = "port"
	FieldUDPPort   FieldKey = "udp_port"
	FieldTCPPort   FieldKey = "tcp_port"
	FieldTransport FieldKey = "transport"
	FieldSize      FieldKey = "size"
	FieldSegments  FieldKey = "segments"
	FieldTaskID    FieldKey = "task"
	FieldRunID     FieldKey = "run_id"
	FieldElapsed   FieldKey = "elapsed"
	ConfigPath     FieldKey = "config_path"
)

// Fields are printed after the message sorted by key, so a transfer's task,
// addr and size line up across log lines. Pass nil when there is nothing to add.
type Fields map[FieldKey]any

type Level = pterm.LogLevel

const (
	LevelDebug Level = pterm.LogLevelDebug
	LevelInfo  Level = pterm.LogLevelInfo
	LevelWarn  Level = pterm.LogLevelWarn
	LevelError Level = pterm.LogLevelError
)

// logKeyStyles tints errors and the run and task ids.
var logKeyStyles = map[string]pterm.Style{
	string(FieldError):  *pterm.NewStyle(pterm.FgRed, pterm.Bold),
	string(FieldRunID):  *pterm.NewStyle(pterm.FgCyan),
	string(FieldTaskID): *pterm.NewStyle(pterm.FgLightMagenta),
}

var (
	levelNames = map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}

	loggerMu = sync.RWMutex{}

	baseLogger = pterm.DefaultLogger.
		WithTime(true).
		WithTimeFormat(time.RFC3339).
		WithMaxWidth(120).
		WithCaller(false).
		AppendKeyStyles(logKeyStyles)

	currentLevel = LevelInfo
)

// ConfigureLogger sets the level from a config or flag value: debug, info,
// warn or error, case-insensitive. Empty means info. Unknown names also fall
// back to info and are returned as an error for the caller to warn about.
func ConfigureLogger(level string) error {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		SetLogLevel(LevelInfo)
		return nil
	}
	lvl, ok := levelNames[level]
	if !ok {
		SetLogLevel(LevelInfo)
		return fmt.Errorf("unknown log level %q", level)
	}
	SetLogLevel(lvl)
	return nil
}

func SetLogLevel(level Level) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	currentLevel = level
}

func getLevel() Level {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return currentLevel
}

func log(level Level, msg string, fields Fields) {
	if level < getLevel() {
		return
	}

	loggerMu.RLock()
	logger := baseLogger.WithLevel(currentLevel)
	loggerMu.RUnlock()

	args := fieldArgs(fields)
	switch level {
	case LevelDebug:
		logger.Debug(msg, args)
	case LevelWarn:
		logger.Warn(msg, args)
	case LevelError:
		logger.Error(msg, args)
	default:
		logger.Info(msg, args)
	}
}

func fieldArgs(fields Fields) []pterm.LoggerArgument {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	args := make([]pterm.LoggerArgument, 0, len(keys))
	for _, key := range keys {
		args = append(args, pterm.LoggerArgument{Key: key, Value: fields[FieldKey(key)]})
	}
	return args
}

func Debug(msg string, fields Fields) { log(LevelDebug, msg, fields) }
func Info(msg string, fields Fields)  { log(LevelInfo, msg, fields) }
func Warn(msg string, fields Fields)  { log(LevelWarn, msg, fields) }
func Error(msg string, fields Fields) { log(LevelError, msg, fields) }
