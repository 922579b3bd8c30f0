// Package logx configures schedkit's structured logging.
//
// Logger is a small value-type wrapper over zerolog that keeps console output
// readable (short timestamp, short caller) and file output JSON-structured.
// A Service owns the sinks and can swap them at runtime when the config file
// is reloaded; loggers derived from it follow along.
package logx
