package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// Sender is the subset of *tele.Bot the sink needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

func newBotSender(token string) (Sender, error) {
	// Offline: the sink only sends, it never polls updates or calls getMe.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return b, nil
}

type telegramItem struct {
	chat   int64
	thread int
	text   string
}

// telegramSink is a zerolog LevelWriter that forwards records at or above
// MinLevel. Sends happen on a worker goroutine; a full queue drops records.
// Failed sends are counted and reported on errOut at most once a minute.
type telegramSink struct {
	token  string
	sender Sender
	queue  chan telegramItem

	errOut   io.Writer
	failures atomic.Int64
	dropped  atomic.Int64
	complain rate.Sometimes

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTelegramSink(cfg TelegramConfig, sender Sender, errOut io.Writer) *telegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	if errOut == nil {
		errOut = Stderr()
	}
	t := &telegramSink{
		token:    cfg.Token,
		sender:   sender,
		queue:    make(chan telegramItem, 256),
		errOut:   errOut,
		complain: rate.Sometimes{First: 1, Interval: time.Minute},
		cancel:   cancel,
	}
	t.configure(cfg)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
	return t
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	t.mu.Lock()
	t.chatID = cfg.ChatID
	t.threadID = cfg.ThreadID
	t.minLevel = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()
}

func (t *telegramSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			opts := &tele.SendOptions{ThreadID: it.thread, DisableWebPagePreview: true}
			if _, err := t.sender.Send(&tele.Chat{ID: it.chat}, it.text, opts); err != nil {
				n := t.failures.Add(1)
				t.complain.Do(func() {
					fmt.Fprintf(t.errOut, "logx: telegram send to chat %d failed (%d failures, %d dropped): %v\n",
						it.chat, n, t.dropped.Load(), err)
				})
			}
		}
	}
}

func (t *telegramSink) stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chat, thread, min, lim := t.chatID, t.threadID, t.minLevel, t.limiter
	t.mu.Unlock()

	if level < min || !lim.Allow() {
		return len(p), nil
	}
	text := formatRecord(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- telegramItem{chat: chat, thread: thread, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatRecord renders one JSON log line as a short chat message.
func formatRecord(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), limit))
	}
	if ts, ok := m["time"].(string); ok {
		if at, err := time.Parse(timeFormat, ts); err == nil {
			b.WriteString("\n@ " + at.UTC().Format(time.RFC3339))
		}
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
