package util

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// cliLogger writes "LEVEL | package | message" lines
type cliLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *cliLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *cliLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *cliLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *cliLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *cliLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *cliLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

func (l *cliLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-6s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// createLogger implements logger.Factory. Logs go to stderr so command output
// on stdout stays machine readable.
func createLogger(pkgName string) logger.ILogger {
	return &cliLogger{
		name:   pkgName,
		level:  logger.WARNING,
		logger: log.New(os.Stderr, "", log.Ldate|log.Ltime),
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

var (
	loggerOnce sync.Once
	// engine packages that log
	engineLoggers = []string{"artdb", "alloc"}
)

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
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

// InitLoggers installs the CLI logger factory (once) and sets the level of
// all engine loggers
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	loggerOnce.Do(func() {
		logger.SetLoggerFactory(createLogger)
	})
	for _, name := range engineLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
