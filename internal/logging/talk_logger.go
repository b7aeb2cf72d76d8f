package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TalkLogger writes the log of one cycle over one talk into its own file,
// mirroring every line to the global logger.
type TalkLogger struct {
	talk      string
	logFile   *os.File
	file      zerolog.Logger
	mutex     sync.Mutex
	startTime time.Time
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// StartTalkLogging opens (appends to) the log file of a talk under dir.
// An empty dir disables the file and only the global logger is used.
func StartTalkLogging(dir, talk string) (*TalkLogger, error) {
	logger := &TalkLogger{
		talk:      talk,
		startTime: time.Now(),
		file:      zerolog.Nop(),
	}
	if dir == "" {
		return logger, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("talk_%s.log", unsafeName.ReplaceAllString(talk, "_")))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger.logFile = logFile
	logger.file = zerolog.New(logFile).With().Timestamp().Str("talk", talk).Logger()
	logger.file.Info().Msg("cycle started")
	return logger, nil
}

// Log writes a message at info level.
func (r *TalkLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.write(zerolog.InfoLevel, nil, format, args...)
}

// LogError writes an error with the step that produced it.
func (r *TalkLogger) LogError(step string, err error) {
	if r == nil {
		return
	}
	r.write(zerolog.ErrorLevel, err, "%s failed", step)
}

func (r *TalkLogger) write(level zerolog.Level, err error, format string, args ...interface{}) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	msg := fmt.Sprintf(format, args...)
	elapsed := time.Since(r.startTime).Round(time.Millisecond)

	ev := r.file.WithLevel(level).Dur("elapsed", elapsed)
	gev := log.WithLevel(level).Str("talk", r.talk)
	if err != nil {
		ev = ev.Err(err)
		gev = gev.Err(err)
	}
	ev.Msg(msg)
	gev.Msg(msg)
}

// Close finalizes the log file.
func (r *TalkLogger) Close() {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.logFile != nil {
		r.file.Info().Dur("duration", time.Since(r.startTime)).Msg("cycle completed")
		r.logFile.Sync()
		r.logFile.Close()
		r.logFile = nil
	}
}
