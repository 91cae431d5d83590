// Package logx configures schedbot's structured logging.
//
// It wraps zerolog in a small value-type Logger so components can carry
// fixed fields (comp=..., chat=...) and still follow live reconfiguration:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON
//   - An optional Telegram sink forwards warnings to an operator chat,
//     filtered by level and rate limited
package logx
