// Package logx configures autopost's structured logging.
//
// Logger is a thin wrapper over zerolog:
//   - console output is human readable with a short caller
//   - the optional file sink writes JSON lines
//   - the optional Telegram sink forwards warnings and errors, rate limited
package logx
