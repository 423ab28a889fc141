// Package logx configures forumsign's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated by lumberjack
//   - An optional Telegram sink (min-level + rate limiting)
//
// Cookies and tokens must never be passed as fields.
package logx
