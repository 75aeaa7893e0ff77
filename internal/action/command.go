package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"autopost/internal/model"
)

const maxCapture = 64 << 10

// Command runs an external program for each execution. The account is
// written to stdin as JSON; stdout becomes the result metadata (kept as is
// when it is valid JSON, otherwise wrapped as {"output": "..."}).
// A non-zero exit is a failure carrying the tail of stderr.
type Command struct {
	Platform string
	Argv     []string
	Env      map[string]string
	Dir      string
}

type commandInput struct {
	Platform string        `json:"platform"`
	Account  model.Account `json:"account"`
}

func (c *Command) Execute(ctx context.Context, acc model.Account) (Result, error) {
	if len(c.Argv) == 0 || strings.TrimSpace(c.Argv[0]) == "" {
		return Result{}, errors.New("command is empty")
	}
	payload, err := json.Marshal(commandInput{Platform: c.Platform, Account: acc})
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(),
		"AUTOPOST_PLATFORM="+c.Platform,
		"AUTOPOST_ACCOUNT_ID="+acc.ID,
		"AUTOPOST_PROVIDER="+string(acc.Provider),
	)
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(payload)
	stdout := &capped{max: maxCapture}
	stderr := &capped{max: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that keep the pipes open must not outlive the kill by much.
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, fmt.Errorf("%s: %w", c.Argv[0], ctxErr)
	}
	if runErr != nil {
		if tail := lastLine(stderr.String()); tail != "" {
			return Result{}, fmt.Errorf("%s: %w: %s", c.Argv[0], runErr, tail)
		}
		return Result{}, fmt.Errorf("%s: %w", c.Argv[0], runErr)
	}
	return Result{Metadata: toMetadata(stdout.Bytes())}, nil
}

func toMetadata(out []byte) json.RawMessage {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil
	}
	if json.Valid(out) {
		return json.RawMessage(out)
	}
	b, _ := json.Marshal(map[string]string{"output": string(out)})
	return b
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 500 {
		s = s[:497] + "..."
	}
	return s
}

// capped keeps the first max bytes and silently drops the rest.
type capped struct {
	bytes.Buffer
	max int
}

func (c *capped) Write(p []byte) (int, error) {
	if room := c.max - c.Len(); room > 0 {
		if len(p) > room {
			c.Buffer.Write(p[:room])
		} else {
			c.Buffer.Write(p)
		}
	}
	return len(p), nil
}
