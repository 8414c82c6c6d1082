// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"sync"
	"testing"
	"time"
)

func TestBufferReordersBurst(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	b := newMessageBuffer(func(m *Message) {
		mu.Lock()
		got = append(got, m.ID)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	b.quiet = 20 * time.Millisecond
	defer b.stop()

	// A burst grouped per sender, not interleaved by time.
	b.add(testMessage("c1", "", "m3", "third", baseTime.Add(3*time.Minute)))
	b.add(testMessage("c1", "", "m1", "first", baseTime.Add(1*time.Minute)))
	b.add(testMessage("c1", "", "m2", "second", baseTime.Add(2*time.Minute)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffer never flushed")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Fatalf("dispatch order = %v", got)
	}
}

func TestBufferFlushesAtMaxSize(t *testing.T) {
	var mu sync.Mutex
	count := 0
	done := make(chan struct{})

	b := newMessageBuffer(func(m *Message) {
		mu.Lock()
		count++
		if count == 3 {
			close(done)
		}
		mu.Unlock()
	})
	// A long quiet window that would not elapse in this test; only the size
	// limit can trigger the flush.
	b.quiet = time.Hour
	b.maxSize = 3
	defer b.stop()

	b.add(testMessage("c1", "", "m1", "a", baseTime.Add(1*time.Minute)))
	b.add(testMessage("c1", "", "m2", "b", baseTime.Add(2*time.Minute)))
	b.add(testMessage("c1", "", "m3", "c", baseTime.Add(3*time.Minute)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("size limit did not force a flush")
	}
}

func TestBufferStopDiscards(t *testing.T) {
	dispatched := make(chan *Message, 1)
	b := newMessageBuffer(func(m *Message) { dispatched <- m })
	b.quiet = 20 * time.Millisecond

	b.add(testMessage("c1", "", "m1", "a", baseTime))
	b.stop()

	select {
	case m := <-dispatched:
		t.Fatalf("stopped buffer dispatched %s", m.ID)
	case <-time.After(100 * time.Millisecond):
	}
}
