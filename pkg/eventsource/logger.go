// Copyright 2025 Commonwealth Scientific and Industrial Research Organisation (CSIRO) ABN 41 687 119 230
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

package eventsource

import "go.uber.org/zap"

// Logger is the minimal logging capability the Stream Client and its
// ConnectStrategy consume. Hosts may supply their own implementation;
// NewZapLogger wraps go.uber.org/zap, the only logging library used
// throughout this module.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// NewZapLogger adapts a *zap.Logger to the Logger capability. Passing nil
// returns a no-op logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return zapLogger{l}
}

type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }

type noopLogger struct{}

func (noopLogger) Debug(string, ...zap.Field) {}
func (noopLogger) Info(string, ...zap.Field)  {}
func (noopLogger) Warn(string, ...zap.Field)  {}
func (noopLogger) Error(string, ...zap.Field) {}
