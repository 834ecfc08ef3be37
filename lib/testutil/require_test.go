// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recorder captures Fatalf instead of stopping the test.
type recorder struct {
	message string
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(r)
}

func capture(fn func(t TB)) (message string) {
	r := &recorder{}
	defer func() {
		if recovered := recover(); recovered != nil && recovered != r {
			panic(recovered)
		}
		message = r.message
	}()
	fn(r)
	return ""
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}
}

func TestRequireReceiveClosed(t *testing.T) {
	ch := make(chan int)
	close(ch)
	message := capture(func(tb TB) { RequireReceive(tb, ch, time.Second, "run %s", "r1") })
	if !strings.Contains(message, "closed") || !strings.Contains(message, "run r1") {
		t.Errorf("message = %q", message)
	}
}

func TestRequireReceiveTimeout(t *testing.T) {
	message := capture(func(tb TB) { RequireReceive(tb, make(chan int), time.Millisecond) })
	if !strings.Contains(message, "nothing received") || !strings.Contains(message, "(no message)") {
		t.Errorf("message = %q", message)
	}
}

func TestRequireClosed(t *testing.T) {
	ch := make(chan struct{})
	close(ch)
	RequireClosed(t, ch, time.Second)

	message := capture(func(tb TB) { RequireClosed(tb, make(chan struct{}), time.Millisecond, "ready") })
	if !strings.Contains(message, "still open") {
		t.Errorf("message = %q", message)
	}
}

func TestUniqueID(t *testing.T) {
	first, second := UniqueID("agent"), UniqueID("agent")
	if first == second || !strings.HasPrefix(first, "agent-") {
		t.Errorf("UniqueID returned %q then %q", first, second)
	}
}
