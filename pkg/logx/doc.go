// Package logx is the bot's structured logging: a small Logger over zerolog
// with typed fields, a pretty console sink, an optional JSON file sink, and
// levels and sinks that change at runtime through Service.Apply.
package logx
