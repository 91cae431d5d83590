// Package tgui provides small Telegram UI helpers:
//   - inline and reply keyboard builders
//   - callback data helpers ("prefix:payload")
//   - a message builder that escapes for ParseMode="HTML"
package tgui
