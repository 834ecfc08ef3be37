// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"fmt"
	"sync"
	"time"
)

// RunIDs issues run identifiers of the form {agent}_{YYYYMMDD}_{HHMMSS}
// in UTC. When an agent starts a second run within the same second,
// the second gets a _1 suffix, the third _2, and so on. It is safe for
// concurrent use.
type RunIDs struct {
	mu   sync.Mutex
	last map[string]runStamp
}

type runStamp struct {
	second string
	repeat int
}

// Next returns the identifier for agent starting a run at started.
func (g *RunIDs) Next(agent string, started time.Time) string {
	second := started.UTC().Format("20060102_150405")

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = make(map[string]runStamp)
	}

	stamp := g.last[agent]
	if stamp.second == second {
		stamp.repeat++
	} else {
		stamp = runStamp{second: second}
	}
	g.last[agent] = stamp

	id := agent + "_" + second
	if stamp.repeat > 0 {
		id += fmt.Sprintf("_%d", stamp.repeat)
	}
	return id
}
