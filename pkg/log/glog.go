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
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter prefixes each message with a glog style header:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
type GoogleEmitter struct {
	Emitter
}

// levelChar maps a Level to its single character header tag.
var levelChar = map[Level]byte{
	Warning: 'W',
	Info:    'I',
	Debug:   'D',
}

// hostPID is padded to the seven columns glog uses for thread IDs.
var hostPID = fmt.Sprintf("%7d", os.Getpid())

// caller returns "file:line" for the frame depth+1 above it.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???:0"
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var sb strings.Builder
	sb.Grow(64 + len(format))
	c, ok := levelChar[level]
	if !ok {
		c = '?'
	}
	sb.WriteByte(c)
	sb.WriteString(timestamp.Format("0102 15:04:05.000000"))
	sb.WriteByte(' ')
	sb.WriteString(hostPID)
	sb.WriteByte(' ')
	sb.WriteString(caller(depth + 1))
	sb.WriteString("] ")
	sb.WriteString(format)
	sb.WriteByte('\n')
	g.Emitter.Emit(depth+1, level, timestamp, sb.String(), args...)
}
