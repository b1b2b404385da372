package inproc

import (
	"sync"
	"testing"

	"github.com/rocketbitz/briefkasten/envelope"
)

func TestPostSendProbeRecvRoundTrip(t *testing.T) {
	groups := NewGroup(2)
	sender, receiver := groups[0], groups[1]

	payload := []byte{1, 2, 3, 4}
	sendReq, err := sender.PostSend(1, envelope.TagData, payload)
	if err != nil {
		t.Fatalf("PostSend: %v", err)
	}
	if err := sendReq.Wait(); err != nil {
		t.Fatalf("send Wait: %v", err)
	}

	info, ok, err := receiver.Probe(envelope.TagData)
	if err != nil || !ok {
		t.Fatalf("Probe: ok=%v err=%v", ok, err)
	}
	if info.Source != 0 || info.ByteLen != len(payload) {
		t.Fatalf("unexpected probe info: %+v", info)
	}

	buf := make([]byte, info.ByteLen)
	recvReq, err := receiver.PostRecv(info.Source, envelope.TagData, buf)
	if err != nil {
		t.Fatalf("PostRecv: %v", err)
	}
	if err := recvReq.Wait(); err != nil {
		t.Fatalf("recv Wait: %v", err)
	}
	for i, b := range payload {
		if buf[i] != b {
			t.Fatalf("payload mismatch at %d: got %d want %d", i, buf[i], b)
		}
	}

	if _, ok, _ := receiver.Probe(envelope.TagData); ok {
		t.Fatalf("expected no further pending transfer after recv")
	}
}

func TestPostRecvWithoutMatchingSourceFails(t *testing.T) {
	groups := NewGroup(2)
	if _, err := groups[1].PostRecv(0, envelope.TagData, make([]byte, 1)); err == nil {
		t.Fatalf("expected error receiving with nothing pending")
	}
}

func TestAllReduceSumAcrossRanks(t *testing.T) {
	const size = 4
	groups := NewGroup(size)

	var wg sync.WaitGroup
	sums := make([][2]uint64, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			h, err := groups[r].AllReduceSum([2]uint64{1, uint64(r)})
			if err != nil {
				t.Errorf("AllReduceSum: %v", err)
				return
			}
			for {
				sum, done, err := h.Test()
				if err != nil {
					t.Errorf("Test: %v", err)
					return
				}
				if done {
					sums[r] = sum
					return
				}
			}
		}(r)
	}
	wg.Wait()

	for r := 0; r < size; r++ {
		if sums[r][0] != size {
			t.Fatalf("rank %d: sent total = %d, want %d", r, sums[r][0], size)
		}
		if sums[r][1] != 0+1+2+3 {
			t.Fatalf("rank %d: received total = %d, want 6", r, sums[r][1])
		}
	}
}

func TestAllToAllVExchangesVariableBuffers(t *testing.T) {
	const size = 3
	groups := NewGroup(size)

	var wg sync.WaitGroup
	results := make([][][]byte, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			send := make([][]byte, size)
			for to := 0; to < size; to++ {
				send[to] = []byte{byte(r), byte(to)}
			}
			recv, err := groups[r].AllToAllV(send)
			if err != nil {
				t.Errorf("AllToAllV: %v", err)
				return
			}
			results[r] = recv
		}(r)
	}
	wg.Wait()

	for r := 0; r < size; r++ {
		for from := 0; from < size; from++ {
			got := results[r][from]
			want := []byte{byte(from), byte(r)}
			if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
				t.Fatalf("rank %d from %d: got %v want %v", r, from, got, want)
			}
		}
	}
}

func TestDupProducesIndependentTagSpace(t *testing.T) {
	groups := NewGroup(2)

	dup0, err := groups[0].Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	dup1, err := groups[1].Dup()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}

	if _, err := dup0.PostSend(1, envelope.TagData, []byte{9}); err != nil {
		t.Fatalf("PostSend on dup: %v", err)
	}

	if _, ok, _ := groups[1].Probe(envelope.TagData); ok {
		t.Fatalf("original group must not observe traffic sent on the duplicate")
	}
	if info, ok, _ := dup1.Probe(envelope.TagData); !ok || info.ByteLen != 1 {
		t.Fatalf("duplicate group did not observe its own traffic: ok=%v info=%+v", ok, info)
	}
}

func TestNewGroupWithLatencyDelaysCompletion(t *testing.T) {
	groups := NewGroupWithLatency(2, 2)
	req, err := groups[0].PostSend(1, envelope.TagData, []byte{1})
	if err != nil {
		t.Fatalf("PostSend: %v", err)
	}
	polls := 0
	for {
		done, err := req.Test()
		if err != nil {
			t.Fatalf("Test: %v", err)
		}
		polls++
		if done {
			break
		}
		if polls > 10 {
			t.Fatalf("request never completed")
		}
	}
	if polls < 3 {
		t.Fatalf("expected at least 3 polls with pendingPolls=2, got %d", polls)
	}
}
