package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Options controls the global logger
type Options struct {
	Debug bool
	// File enables an additional JSON sink with rotation
	File string
	// Stderr sends console output to stderr instead of stdout, keeping stdout
	// free for command output (JSON results)
	Stderr bool
}

// Init initializes the global logger with console output only
func Init(debug bool) {
	Setup(Options{Debug: debug, Stderr: true})
}

// InitWithFile initializes the global logger with both console and file output
func InitWithFile(debug bool, logFile string) {
	Setup(Options{Debug: debug, File: logFile, Stderr: true})
}

// Setup initializes the global logger once; later calls are ignored
func Setup(opts Options) {
	once.Do(func() {
		log = build(opts)
	})
}

func build(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	out := zapcore.AddSync(os.Stdout)
	if opts.Stderr {
		out = zapcore.AddSync(os.Stderr)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), out, level),
	}

	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    20, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
			}),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Get returns the global logger
func Get() *zap.Logger {
	if log == nil {
		Init(false)
	}
	return log
}

// Named returns the global logger scoped to a component
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
