package display

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestPublishThenDrainFIFO(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	for i := 0; i < 5; i++ {
		ch.Publish(Event{Type: EventStatus, Text: strconv.Itoa(i)})
	}

	got := ch.TryDrain()
	if len(got) != 5 {
		t.Fatalf("drained %d events, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Text != strconv.Itoa(i) {
			t.Errorf("event %d text = %q, want %q", i, ev.Text, strconv.Itoa(i))
		}
	}
	if extra := ch.TryDrain(); extra != nil {
		t.Errorf("second drain returned %d events, want none", len(extra))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			ch.Publish(Event{Type: EventAssistantPartial, Text: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}
	if ch.Len() != 10000 {
		t.Errorf("Len = %d, want 10000", ch.Len())
	}
}

func TestConcurrentPublishPreservesPerProducerOrder(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	const producers = 4
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				ch.Publish(Event{Type: EventUserText, Name: strconv.Itoa(p), Text: strconv.Itoa(i)})
			}
		}(p)
	}
	wg.Wait()

	events := ch.TryDrain()
	if len(events) != producers*perProducer {
		t.Fatalf("drained %d events, want %d", len(events), producers*perProducer)
	}

	last := map[string]int{}
	for _, ev := range events {
		seq, err := strconv.Atoi(ev.Text)
		if err != nil {
			t.Fatalf("bad sequence %q: %v", ev.Text, err)
		}
		if prev, ok := last[ev.Name]; ok && seq != prev+1 {
			t.Fatalf("producer %s: sequence %d after %d", ev.Name, seq, prev)
		}
		last[ev.Name] = seq
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	got := make(chan Event, 1)
	go func() {
		ev, err := ch.Next(context.Background())
		if err != nil {
			t.Errorf("Next: %v", err)
			return
		}
		got <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Publish(Event{Type: EventIdentity, Name: "sam"})

	select {
	case ev := <-got:
		if ev.Name != "sam" {
			t.Errorf("Name = %q, want sam", ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Publish")
	}
}

func TestNextHonoursCancellation(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestNextAfterClose(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	ch.Publish(Event{Type: EventStatus, Text: "bye"})
	ch.Close()

	// Queued event still drainable.
	ev, err := ch.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Text != "bye" {
		t.Errorf("Text = %q, want bye", ev.Text)
	}

	if _, err := ch.Next(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("err = %v, want ErrChannelClosed", err)
	}
}

func TestPartialConcatenationOrder(t *testing.T) {
	t.Parallel()

	// The renderer reconstructs the reply by concatenating partials; the
	// queue must hand them back in publish order.
	ch := NewChannel()
	parts := []string{"Hel", "lo ", "the", "re."}
	for _, p := range parts {
		ch.Publish(Event{Type: EventAssistantPartial, Text: p})
	}
	ch.Publish(Event{Type: EventAssistantFinal, Text: "Hello there."})

	var rebuilt string
	for _, ev := range ch.TryDrain() {
		switch ev.Type {
		case EventAssistantPartial:
			rebuilt += ev.Text
		case EventAssistantFinal:
			if rebuilt != ev.Text {
				t.Errorf("concatenated partials %q != final %q", rebuilt, ev.Text)
			}
		default:
			t.Errorf("unexpected event type %s", ev.Type)
		}
	}
}

func TestPublishStampsTime(t *testing.T) {
	t.Parallel()

	ch := NewChannel()
	before := time.Now()
	ch.Publish(Event{Type: EventStatus, Text: "listening"})
	events := ch.TryDrain()
	if len(events) != 1 {
		t.Fatalf("drained %d, want 1", len(events))
	}
	if events[0].At.Before(before) {
		t.Errorf("At = %v, before publish time %v", events[0].At, before)
	}
}
