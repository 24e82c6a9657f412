// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package alog is the structured logger used across the afs module: a
// thin wrapper over log/slog with the severity levels afstool and its
// internal packages actually use (TRACE below slog's own Debug, then
// DEBUG/INFO/WARNING/ERROR), and a choice of text or JSON output.
package alog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Severity levels, spaced apart so custom levels can be inserted later
// without renumbering the set below.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var levelNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

func replaceLevelAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	if name, ok := levelNames[level]; ok {
		a.Value = slog.StringValue(name)
	}
	return a
}

// Format selects the handler used to render log records.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

type loggerFactory struct {
	format Format
}

func (f loggerFactory) newHandler(w io.Writer, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelAttr}
	if f.format == JSONFormat {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	programLevel  = new(slog.LevelVar)
	factory       = loggerFactory{format: TextFormat}
	defaultLogger = slog.New(factory.newHandler(os.Stderr, programLevel))
)

// Init (re)configures the package-level default logger. It is meant to
// be called once at process startup, from cmd/afstool's configuration
// path.
func Init(w io.Writer, format Format, level string) {
	factory = loggerFactory{format: format}
	programLevel.Set(parseLevel(level))
	defaultLogger = slog.New(factory.newHandler(w, programLevel))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARNING", "WARN":
		return LevelWarning
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func log(level slog.Level, format string, v ...interface{}) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...interface{})   { log(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{})   { log(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})    { log(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})    { log(LevelWarning, format, v...) }
func Errorf(format string, v ...interface{})   { log(LevelError, format, v...) }
func Warningf(format string, v ...interface{}) { log(LevelWarning, format, v...) }
