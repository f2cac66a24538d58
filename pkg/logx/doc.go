// Package logx is the bot's structured logging facade over zerolog.
//
// It provides a small Logger value type with fixed-field derivation and a
// Service that owns the sinks (console, file, chat mirror) and can swap
// them at runtime when the config hot-reloads. The chat sink is throttled
// and queued so logging never blocks on the messaging platform.
package logx
