// Package logging provides the levelled, coloured, key-value logger used
// across every binary in this repository. The shape of the API
// (Trace/Debug/Info/Warn/Error/Crit taking a message followed by
// alternating key/value pairs) follows go-ethereum's log package, as used
// throughout miner/worker.go and miner/unconfirmed.go in berith-chain.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a logging level, ordered from most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// LvlFromString parses a level name such as "info" or "warn", matching the
// -loglevel flag accepted by every cmd/ binary.
func LvlFromString(s string) (Lvl, error) {
	switch strings.ToLower(s) {
	case "crit", "critical":
		return LvlCrit, nil
	case "error", "eror":
		return LvlError, nil
	case "warn":
		return LvlWarn, nil
	case "info":
		return LvlInfo, nil
	case "debug", "dbug":
		return LvlDebug, nil
	case "trace":
		return LvlTrace, nil
	default:
		return LvlInfo, fmt.Errorf("unknown log level %q", s)
	}
}

var levelColor = map[Lvl]color.Attribute{
	LvlCrit:  color.FgMagenta,
	LvlError: color.FgRed,
	LvlWarn:  color.FgYellow,
	LvlInfo:  color.FgGreen,
	LvlDebug: color.FgCyan,
	LvlTrace: color.FgWhite,
}

type logger struct {
	mu     sync.Mutex
	level  Lvl
	out    io.Writer
	color  bool
	ctx    []interface{}
}

// root is the package-level logger every exported function writes through.
// Binaries needing an isolated logger (tests, for instance) can build their
// own with New.
var root = New(os.Stderr)

// New constructs a logger writing to w, auto-detecting whether w is a
// terminal to decide whether to colourise output (mirrors
// mattn/go-isatty's use in go-ethereum's log package).
func New(w io.Writer) *logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	out := w
	if useColor {
		if f, ok := w.(*os.File); ok {
			out = colorable.NewColorable(f)
		}
	}
	return &logger{level: LvlInfo, out: out, color: useColor}
}

// SetLevel adjusts the minimum level written by the package-level logger.
func SetLevel(lvl Lvl) { root.SetLevel(lvl) }

func (l *logger) SetLevel(lvl Lvl) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
}

// callSite returns the file:line of the call into the public log function:
// the first stack frame outside this file, so package-level functions and
// logger methods both report their caller. Grounded on go-stack/stack's
// use in go-ethereum's log package for attaching a call site to each record.
func callSite() string {
	self := fmt.Sprintf("%#s", stack.Caller(0))
	for _, call := range stack.Trace() {
		if fmt.Sprintf("%#s", call) != self {
			return fmt.Sprintf("%+v", call)
		}
	}
	return "unknown"
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl > l.level {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	levelStr := fmt.Sprintf("[%-5s]", lvl.String())
	if l.color {
		levelStr = color.New(levelColor[lvl]).Sprint(levelStr)
	}
	b.WriteString(levelStr)
	b.WriteByte(' ')
	b.WriteString(msg)
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	if len(all)%2 == 1 {
		fmt.Fprintf(&b, " %v=%s", all[len(all)-1], "MISSING")
	}
	b.WriteString(" caller=" + callSite())
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

// With returns a child logger with additional context appended to every
// subsequent record, e.g. logging.Root().With("component", "mining").
func (l *logger) With(ctx ...interface{}) *logger {
	return &logger{level: l.level, out: l.out, color: l.color, ctx: append(append([]interface{}{}, l.ctx...), ctx...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at the most severe level and terminates the process, matching
// go-ethereum's log.Crit semantics for unrecoverable startup failures
// (in the cmd/ binaries: a config file that fails to load).
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

// Root returns the package-level logger so callers can derive a scoped
// child logger via Root().With(...).
func Root() *logger { return root }

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
