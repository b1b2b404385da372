package envelope

import "testing"

func collectSentinel[E comparable](t *testing.T, buf []E, sentinel E) []MessageEnvelope[E] {
	t.Helper()
	splitter := SentinelSplitter[E]{Sentinel: sentinel}
	seq, err := splitter.Split(buf, 3, 7)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	var out []MessageEnvelope[E]
	for env := range seq {
		out = append(out, env)
	}
	return out
}

func TestSentinelMergerAppendRoundTrip(t *testing.T) {
	merger := SentinelMerger[int64]{Sentinel: -1}

	var buf []int64
	buf, err := merger.Append(buf, 0, 7, MessageEnvelope[int64]{Payload: []int64{1, 2, 3}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	buf, err = merger.Append(buf, 0, 7, MessageEnvelope[int64]{Payload: []int64{4, 5}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	want := []int64{1, 2, 3, -1, 4, 5, -1}
	if len(buf) != len(want) {
		t.Fatalf("buffer = %v, want %v", buf, want)
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buffer = %v, want %v", buf, want)
		}
	}

	envs := collectSentinel(t, buf, -1)
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}
	if got := envs[0].Payload; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("envelope 0 payload = %v", got)
	}
	if got := envs[1].Payload; len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("envelope 1 payload = %v", got)
	}
	for _, env := range envs {
		if env.Sender != 3 || env.Receiver != 7 || env.Tag != TagData {
			t.Fatalf("envelope routing mismatch: %+v", env)
		}
	}
}

func TestSentinelMergerEstimateTracksAppend(t *testing.T) {
	merger := SentinelMerger[int64]{Sentinel: -1}
	buf := []int64{1, 2, -1}
	env := MessageEnvelope[int64]{Payload: []int64{3, 4}}
	got := merger.Estimate(buf, 0, 0, env)
	want := len(buf) + len(env.Payload) + 1
	if got != want {
		t.Fatalf("Estimate = %d, want %d", got, want)
	}
}

func TestSentinelSplitterEmptyBuffer(t *testing.T) {
	envs := collectSentinel(t, nil, -1)
	if len(envs) != 0 {
		t.Fatalf("expected no envelopes from an empty buffer, got %d", len(envs))
	}
}

func TestSentinelSplitterLeadingAndTrailingSentinels(t *testing.T) {
	// Two posts back to back where the first payload happens to be empty
	// still produces one envelope per sentinel boundary, including an
	// empty one.
	buf := []int64{-1, 9, -1}
	envs := collectSentinel(t, buf, -1)
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(envs))
	}
	if len(envs[0].Payload) != 0 {
		t.Fatalf("expected first envelope empty, got %v", envs[0].Payload)
	}
	if got := envs[1].Payload; len(got) != 1 || got[0] != 9 {
		t.Fatalf("second envelope payload = %v", got)
	}
}

func TestSentinelSplitterRejectsBufferNotEndingInSentinel(t *testing.T) {
	splitter := SentinelSplitter[int64]{Sentinel: -1}
	_, err := splitter.Split([]int64{1, 2, 3}, 0, 0)
	if err == nil {
		t.Fatalf("expected an error for a buffer not ending in the sentinel")
	}
}
