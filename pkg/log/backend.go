// Copyright 2022 Intel Corporation. All Rights Reserved.
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
	"io"
	"os"
	"strings"
	"sync/atomic"
)

// BackendFn creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits a message with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line message, prefixing each line.
	Block(Level, string, string, string, ...interface{})
	// Flush flushes any buffered messages.
	Flush()
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the width sources are centered in.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backend[name] = fn
}

const (
	// FmtBackendName is the name of the default backend.
	FmtBackendName = "fmt"
	// fmtQueueLen is the length of the fmt backend message queue.
	fmtQueueLen = 1024
)

// fmtTags are the severity prefixes of the fmt backend.
var fmtTags = map[Level]string{
	LevelDebug: "D: ",
	LevelInfo:  "I: ",
	LevelWarn:  "W: ",
	LevelError: "E: ",
	LevelFatal: "FATAL ERROR: ",
	LevelPanic: "PANIC: ",
}

// fmtBackend writes messages to an io.Writer from a single goroutine.
type fmtBackend struct {
	out   io.Writer
	q     chan fmtMsg
	align atomic.Int32
}

// fmtMsg is a message or a control request for the emitter goroutine.
type fmtMsg struct {
	level Level
	text  string
	stop  bool
	done  chan struct{}
}

func createFmtBackend() Backend {
	return newFmtBackend(os.Stdout)
}

func newFmtBackend(out io.Writer) *fmtBackend {
	f := &fmtBackend{
		out: out,
		q:   make(chan fmtMsg, fmtQueueLen),
	}
	go f.run()
	return f
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.Block(level, source, "", format, args...)
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	head := fmtTags[level] + alignSource(source, int(f.align.Load())) + " " + prefix
	lines := strings.Split(fmt.Sprintf(format, args...), "\n")

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(head)
		b.WriteString(line)
		b.WriteByte('\n')
	}

	msg := fmtMsg{level: level, text: b.String()}
	if level > LevelError {
		msg.done = make(chan struct{})
	}
	f.q <- msg
	if msg.done != nil {
		<-msg.done
	}
}

func (f *fmtBackend) Flush() {
	f.Sync()
}

func (f *fmtBackend) Sync() {
	f.control(false)
}

func (f *fmtBackend) Stop() {
	f.control(true)
}

func (f *fmtBackend) SetSourceAlignment(width int) {
	f.align.Store(int32(width))
}

// control waits until the emitter has processed everything queued so far.
func (f *fmtBackend) control(stop bool) {
	done := make(chan struct{})
	f.q <- fmtMsg{stop: stop, done: done}
	<-done
}

func (f *fmtBackend) run() {
	for msg := range f.q {
		if msg.text != "" {
			io.WriteString(f.out, msg.text)
		}
		if msg.done != nil {
			close(msg.done)
		}
		if msg.stop {
			return
		}
	}
}

// alignSource returns the source in brackets, centered within width.
func alignSource(source string, width int) string {
	pad := width - len(source)
	if pad <= 0 {
		return "[" + source + "]"
	}
	post := pad / 2
	return "[" + strings.Repeat(" ", pad-post) + source + strings.Repeat(" ", post) + "]"
}

func init() {
	RegisterBackend(FmtBackendName, createFmtBackend)
}
