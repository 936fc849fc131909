// Copyright 2024 The gVisor Authors.
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

package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// jsonLog is one line of JSONEmitter output.
type jsonLog struct {
	Msg    string    `json:"msg"`
	Level  Level     `json:"level"`
	Time   time.Time `json:"time"`
	Caller string    `json:"caller,omitempty"`
}

var levelNames = []string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) < 0 || int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return json.Marshal(levelNames[l])
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. Both the level
// name and its integer value are accepted.
func (l *Level) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < 0 || n >= len(levelNames) {
			return fmt.Errorf("unknown level %d", n)
		}
		*l = Level(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unknown level %q", b)
	}
	for i, name := range levelNames {
		if name == s {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", s)
}

// JSONEmitter logs one JSON object per message.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	b, err := json.Marshal(jsonLog{
		Msg:    strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"),
		Level:  level,
		Time:   timestamp,
		Caller: caller(depth + 1),
	})
	if err != nil {
		panic(err)
	}
	e.Writer.Write(b)
}
