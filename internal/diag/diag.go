// Package diag owns the process logger. Every diagnostic goes to stderr so it
// never mixes with an RPC stream or CLI result on stdout.
package diag

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options configure the process logger.
type Options struct {
	Level   string
	Format  string // "diag" or "pretty"
	LogFile string
}

// Setup builds the process logger. Only the first call has any effect.
func Setup(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = newLogger(opts, os.Stderr)
	})
	return logger
}

func newLogger(opts Options, stderr io.Writer) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.Format == "pretty" {
		l.SetReportCaller(true)
		l.SetFormatter(&formatter.Formatter{
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
			},
		})
	} else {
		l.SetFormatter(&Formatter{})
	}

	writers := []io.Writer{stderr}
	if opts.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.LogFile,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l
}

// Formatter writes one machine-parsable line per entry:
//
//	severity;message key=value key=value
//
// Severity is one of error, warning, info, debug.
type Formatter struct{}

func (f *Formatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(Severity(e.Level))
	b.WriteByte(';')
	b.WriteString(strings.ReplaceAll(e.Message, "\n", " "))

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Severity maps a logrus level to the diagnostic severity word.
func Severity(l logrus.Level) string {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return "error"
	case logrus.WarnLevel:
		return "warning"
	case logrus.InfoLevel:
		return "info"
	default:
		return "debug"
	}
}
