package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/raihanakbr/consult-roles/internal/diarize"
	"github.com/sirupsen/logrus"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, idle time.Duration) (*Store, *fakeClock) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore(idle, log)
	s.now = clock.Now
	return s, clock
}

func finalBatch(speaker diarize.SpeakerID, text string) diarize.Batch {
	return diarize.Batch{IsFinal: true, Records: []diarize.Record{
		diarize.UtteranceOf(diarize.UtteranceRecord{Speaker: speaker, Text: text}),
	}}
}

func TestStore_OpenGeneratesID(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	a, resumed := s.Open("", diarize.Options{})
	b, _ := s.Open("", diarize.Options{})

	if resumed {
		t.Error("fresh entry reported as resumed")
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q and %q should be distinct and non-empty", a.ID, b.ID)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestStore_ResumeKeepsSegments(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	e, _ := s.Open("conn-1", diarize.Options{})
	if _, err := e.Process(finalBatch("A", "hello")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := s.End("conn-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := s.Process("conn-1", finalBatch("A", "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Process after End = %v, want ErrClosed", err)
	}

	again, resumed := s.Open("conn-1", diarize.Options{SpeakersExpected: 1})
	if !resumed || again != e {
		t.Fatal("expected the existing entry to be resumed")
	}
	info := again.Info()
	if info.Status != StatusActive || info.EndTime != nil {
		t.Errorf("resumed info = %+v", info)
	}
	if len(info.Segments) != 1 || info.Segments[0].Text != "hello" {
		t.Errorf("segments lost on resume: %+v", info.Segments)
	}
	if info.SpeakersExpected != 0 {
		t.Error("options must not change on resume")
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if _, err := s.End("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("End = %v, want ErrNotFound", err)
	}
}

func TestEntry_FailAndComplete(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)
	e, _ := s.Open("x", diarize.Options{})

	e.Fail("Code=3005, Message=bad audio")
	e.Complete(12.5)

	info := e.Info()
	if info.Status != StatusError || info.ErrorMessage == "" || info.EndTime == nil {
		t.Errorf("info = %+v", info)
	}
	if info.TotalAudioDuration != 0 {
		t.Error("Complete must not overwrite a failed entry")
	}
}

func TestStore_ReapIdle(t *testing.T) {
	s, clock := newTestStore(t, 10*time.Minute)

	s.Open("old", diarize.Options{})
	clock.Advance(8 * time.Minute)
	fresh, _ := s.Open("fresh", diarize.Options{})
	clock.Advance(3 * time.Minute)
	fresh.Touch()

	if n := s.Reap(); n != 1 {
		t.Fatalf("Reap removed %d, want 1", n)
	}
	if _, err := s.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Error("idle entry survived")
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Error("active entry was evicted")
	}
}

func TestStore_ReapKeepsAttachedEntries(t *testing.T) {
	s, clock := newTestStore(t, 10*time.Minute)

	live, _ := s.Open("live", diarize.Options{})
	live.Attach()
	clock.Advance(time.Hour)

	if n := s.Reap(); n != 0 {
		t.Fatalf("Reap removed %d attached entries", n)
	}
	if _, err := s.Process("live", finalBatch("A", "still here")); err != nil {
		t.Fatalf("Process after idle hour: %v", err)
	}

	live.Detach()
	clock.Advance(11 * time.Minute)
	if n := s.Reap(); n != 1 {
		t.Errorf("Reap removed %d after detach, want 1", n)
	}
}

func TestStore_ReapDisabled(t *testing.T) {
	s, clock := newTestStore(t, 0)
	s.Open("a", diarize.Options{})
	clock.Advance(24 * time.Hour)

	if n := s.Reap(); n != 0 {
		t.Errorf("Reap removed %d with eviction disabled", n)
	}
}

func TestStore_RunStopsOnCancel(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEntry_ConcurrentBatchesAreSerialized(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)
	e, _ := s.Open("busy", diarize.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Process(finalBatch("A", "one two")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	f, ok := e.Info().Features.Lookup("A")
	if !ok || f.UtteranceCount != 50 || f.WordCount != 100 {
		t.Errorf("features = %+v, want 50 utterances and 100 words", f)
	}
}
