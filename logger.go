package weir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// Logger writes structured, leveled lines for one App: the Dispatcher's
// per-request trace, the WebSocket Engine's connection lifecycle, and the
// cache and broadcast layers' warnings, alongside the five general-purpose
// levels applications can call directly.
type Logger struct {
	app *App

	template   *template.Template
	bufferPool *sync.Pool
	mutex      *sync.Mutex
	levels     []string

	Output io.Writer
}

// loggerLevel is the level of the `Logger`.
type loggerLevel uint8

// logger levels
const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
	lvlFatal
)

// newLogger returns a pointer of a new instance of the `Logger`.
func newLogger(a *App) *Logger {
	return &Logger{
		app: a,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 256))
			},
		},
		mutex: &sync.Mutex{},
		levels: []string{
			"DEBUG",
			"INFO",
			"WARN",
			"ERROR",
			"FATAL",
		},
		Output: os.Stdout,
	}
}

// Print writes i with no level or template applied, a plain fmt.Fprintln.
func (l *Logger) Print(i ...interface{}) {
	fmt.Fprintln(l.Output, i...)
}

func (l *Logger) Printf(format string, args ...interface{}) {
	f := fmt.Sprintf("%s\n", format)
	fmt.Fprintf(l.Output, f, args...)
}

func (l *Logger) Printj(m map[string]interface{}) {
	json.NewEncoder(l.Output).Encode(m)
}

func (l *Logger) Debug(i ...interface{}) {
	l.log(lvlDebug, "", i...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(lvlDebug, format, args...)
}

func (l *Logger) Debugj(m map[string]interface{}) {
	l.log(lvlDebug, "json", m)
}

func (l *Logger) Info(i ...interface{}) {
	l.log(lvlInfo, "", i...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(lvlInfo, format, args...)
}

func (l *Logger) Infoj(m map[string]interface{}) {
	l.log(lvlInfo, "json", m)
}

func (l *Logger) Warn(i ...interface{}) {
	l.log(lvlWarn, "", i...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(lvlWarn, format, args...)
}

func (l *Logger) Warnj(m map[string]interface{}) {
	l.log(lvlWarn, "json", m)
}

func (l *Logger) Error(i ...interface{}) {
	l.log(lvlError, "", i...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(lvlError, format, args...)
}

func (l *Logger) Errorj(m map[string]interface{}) {
	l.log(lvlError, "json", m)
}

// Fatal logs at FATAL and terminates the process with os.Exit(1). It is
// meant for startup failures, never for a per-request code path.
func (l *Logger) Fatal(i ...interface{}) {
	l.log(lvlFatal, "", i...)
	os.Exit(1)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(lvlFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) Fatalj(m map[string]interface{}) {
	l.log(lvlFatal, "json", m)
	os.Exit(1)
}

// log prints the lvl level log info in the format with the args.
func (l *Logger) log(lvl loggerLevel, format string, args ...interface{}) {
	if !l.app.LoggerEnabled {
		return
	} else if l.template == nil {
		// LogFormat names its fields as ${name}; rewrite each one into the
		// {{.name}} action text/template understands.
		format := regexp.MustCompile(`\$\{(\w+)\}`).ReplaceAllString(l.app.LogFormat, "{{.${1}}}")
		l.template = template.Must(
			template.New("logger").Parse(format),
		)
	}

	l.mutex.Lock()
	buf := l.bufferPool.Get().(*bytes.Buffer)

	message := ""
	if format == "" {
		message = fmt.Sprint(args...)
	} else if format == "json" {
		b, _ := json.Marshal(args[0])
		message = string(b)
	} else {
		message = fmt.Sprintf(format, args...)
	}

	_, file, line, _ := runtime.Caller(3)

	data := map[string]interface{}{}
	data["app_name"] = l.app.AppName
	data["time_rfc3339"] = time.Now().Format(time.RFC3339)
	data["level"] = l.levels[lvl]
	data["short_file"] = path.Base(file)
	data["long_file"] = file
	data["line"] = strconv.Itoa(line)

	if err := l.template.Execute(buf, data); err == nil {
		s := buf.String()
		i := buf.Len() - 1
		if s[i] == '}' {
			// JSON header
			buf.Truncate(i)
			buf.WriteByte(',')
			if format == "json" {
				buf.WriteString(message[1:])
			} else {
				buf.WriteString(`"message":"`)
				buf.WriteString(message)
				buf.WriteString(`"}`)
			}
		} else {
			// Text header
			buf.WriteByte(' ')
			buf.WriteString(message)
		}
		buf.WriteByte('\n')
		l.Output.Write(buf.Bytes())
	}

	buf.Reset()
	l.bufferPool.Put(buf)
	l.mutex.Unlock()
}

// DispatchTrace logs one completed dispatch at DEBUG. The Dispatcher only
// calls this when performance hooks are enabled, so it costs nothing on the
// common path.
func (l *Logger) DispatchTrace(method, path string, status int, elapsed time.Duration) {
	l.Debugf("%s %s -> %d (%s)", method, path, status, elapsed)
}

// ConnectionOpened logs a completed WebSocket handshake at INFO.
func (l *Logger) ConnectionOpened(id, remoteAddr string) {
	l.Infof("ws connection %s opened from %s", id, remoteAddr)
}

// ConnectionClosed logs a WebSocket connection's teardown at INFO, however
// it was triggered (peer close frame, heartbeat timeout, server shutdown).
func (l *Logger) ConnectionClosed(id string, code int, reason string) {
	l.Infof("ws connection %s closed (code=%d reason=%q)", id, code, reason)
}

// QueueOverflow logs a tail-dropped offline message at WARN.
func (l *Logger) QueueOverflow(id string, capacity int) {
	l.Warnf("offline queue for %s dropped a message at capacity %d", id, capacity)
}

// CacheEvictionStorm logs at WARN once a cache's cumulative eviction count
// crosses a reporting threshold, a coarse signal that its capacity no
// longer fits the working set.
func (l *Logger) CacheEvictionStorm(cache string, evictions int64) {
	l.Warnf("%s cache has evicted %d entries", cache, evictions)
}

// HandlerPanic logs a recovered handler panic at ERROR before the Dispatcher
// turns it into an ordinary error for the error chain.
func (l *Logger) HandlerPanic(method, path string, recovered interface{}) {
	l.Errorf("panic in handler for %s %s: %v", method, path, recovered)
}

// FrameProtocolViolation logs a WebSocket frame that broke the RFC 6455
// framing rules at ERROR, just before the connection closes.
func (l *Logger) FrameProtocolViolation(id, reason string) {
	l.Errorf("ws connection %s frame protocol violation: %s", id, reason)
}
