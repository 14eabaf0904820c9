package handler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBumpAndWaitBlocksUntilEnteredSectionsExit(t *testing.T) {
	g := newQuiescentGuard()
	gen := g.enter()

	done := make(chan struct{})
	go func() {
		g.bumpAndWait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("bumpAndWait returned before the in-flight section exited")
	case <-time.After(20 * time.Millisecond):
	}

	g.exit(gen)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bumpAndWait did not return after the section exited")
	}
}

func TestEnterAfterBumpGetsNewGeneration(t *testing.T) {
	g := newQuiescentGuard()
	gen := g.enter()
	g.exit(gen)

	g.bumpAndWait()

	newGen := g.enter()
	assert.NotEqual(t, gen, newGen)
	g.exit(newGen)
}

func TestConcurrentEntersDoNotRace(t *testing.T) {
	g := newQuiescentGuard()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen := g.enter()
			time.Sleep(time.Millisecond)
			g.exit(gen)
		}()
	}
	wg.Wait()
	g.bumpAndWait()
}
