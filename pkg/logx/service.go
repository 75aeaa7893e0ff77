package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	Token      string
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the log sinks and swaps them on Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Pointer[zerolog.Logger]
	file *os.File
	tg   *telegramSink

	// newSender builds the Telegram client; replaced in tests.
	newSender func(token string) (Sender, error)
	// errOut receives the sinks' own failures. Nil means stderr.
	errOut io.Writer
}

// New creates the service and applies cfg immediately.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{newSender: newBotSender}
	boot := zerolog.New(newConsoleWriter(Stderr())).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply rebuilds the sinks from cfg. Safe to call concurrently with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stderr()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./autopost.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if w := s.applyTelegram(cfg.Telegram); w != nil {
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stderr()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// applyTelegram keeps the running sink when only its knobs changed and
// rebuilds it when the token or target changed. Caller holds s.mu.
func (s *Service) applyTelegram(cfg TelegramConfig) io.Writer {
	if !cfg.Enabled || strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		if cfg.Enabled {
			fmt.Fprintln(os.Stderr, "logx: telegram sink enabled without token or chat_id; ignoring")
		}
		if s.tg != nil {
			s.tg.stop()
			s.tg = nil
		}
		return nil
	}
	if s.tg != nil && s.tg.token == cfg.Token {
		s.tg.configure(cfg)
		return s.tg
	}
	if s.tg != nil {
		s.tg.stop()
		s.tg = nil
	}
	sender, err := s.newSender(cfg.Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: telegram sink: %v\n", err)
		return nil
	}
	s.tg = newTelegramSink(cfg, sender, s.errOut)
	return s.tg
}

// TelegramFailures reports how many alert sends failed since the sink was
// (re)built.
func (s *Service) TelegramFailures() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tg == nil {
		return 0
	}
	return s.tg.failures.Load()
}

// Close flushes and releases the sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	tg := s.tg
	s.tg = nil
	s.mu.Unlock()

	if tg != nil {
		tg.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

// Stdout returns the command output sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the diagnostics sink. Logs go here so command output stays parseable.
func Stderr() io.Writer { return os.Stderr }
