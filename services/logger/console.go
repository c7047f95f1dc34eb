// Package logsvc provides the core.Logger implementations.
package logsvc

import (
	"log"

	"github.com/trezcool/homework/core"
)

// ConsoleLogger only writes to std. Debug entries are dropped unless verbose.
type ConsoleLogger struct {
	std     *log.Logger
	verbose bool
}

var _ core.Logger = (*ConsoleLogger)(nil)

func NewConsoleLogger(std *log.Logger, verbose bool) *ConsoleLogger {
	return &ConsoleLogger{std: std, verbose: verbose}
}

func (l ConsoleLogger) Debug(msg string, args ...interface{}) {
	if l.verbose {
		printTo(l.std, "DEBUG", msg, args)
	}
}

func (l ConsoleLogger) Info(msg string, args ...interface{}) {
	printTo(l.std, "INFO", msg, args)
}

func (l ConsoleLogger) Warn(msg string, args ...interface{}) {
	printTo(l.std, "WARN", msg, args)
}

func (l ConsoleLogger) Error(msg string, args ...interface{}) {
	printTo(l.std, "ERROR", msg, args)
}

func (l ConsoleLogger) Fatal(msg string, args ...interface{}) {
	printTo(l.std, "FATAL", msg, args)
	l.std.Fatal(msg)
}

func printTo(std *log.Logger, level, msg string, args []interface{}) {
	std.Printf("%s: %s\n", level, msg)
	for _, arg := range args {
		if _, ok := personOf(arg); ok {
			continue
		}
		std.Printf("%+v\n", arg)
	}
}
