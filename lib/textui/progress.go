// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
)

// Progress logs a chunk-verification tally ("N/D (pct%)") at most once
// per interval while a chunkstore's chunk list is being walked, and once
// more when Done is called if the tally changed since the last line, so a
// long verify pass doesn't go silent but
// also doesn't spam the log once per chunk.
type Progress struct {
	ctx      context.Context
	lvl      dlog.LogLevel
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	cur     atomic.Value // Portion[int]
	oldStat Portion[int]
	oldLine string
}

// NewProgress constructs a Progress that logs to ctx at lvl, no more than
// once per interval.
func NewProgress(ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress {
	ctx, cancel := context.WithCancel(ctx)
	return &Progress{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,

		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Set records the current (n, d) tally. The first call starts the
// background ticker that periodically flushes it to the log.
func (p *Progress) Set(n, d int) {
	val := Portion[int]{N: n, D: d}
	if p.cur.Swap(val) == nil {
		go p.run()
	}
}

// Done stops the background ticker, flushing one final line if the tally
// changed since the last one, and blocks until it has done so.
func (p *Progress) Done() {
	p.cancel()
	<-p.done
}

func (p *Progress) flush(force bool) {
	cur := p.cur.Load().(Portion[int])
	if !force && cur == p.oldStat {
		return
	}
	defer func() { p.oldStat = cur }()

	line := cur.String()
	if !force && line == p.oldLine {
		return
	}
	defer func() { p.oldLine = line }()

	dlog.Log(p.ctx, p.lvl, line)
}

func (p *Progress) run() {
	p.flush(true)
	ticker := time.NewTicker(p.interval)
	for {
		select {
		case <-p.ctx.Done():
			ticker.Stop()
			p.flush(false)
			close(p.done)
			return
		case <-ticker.C:
			p.flush(false)
		}
	}
}
