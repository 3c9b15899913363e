package pktqueue

import (
	"sync"
	"testing"
)

func TestPushPopFIFO(t *testing.T) {
	q := New(4)
	var dest [8]byte
	for i := byte(0); i < 3; i++ {
		if err := q.Push(KindData, dest, []byte{i}); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := byte(0); i < 3; i++ {
		p, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop(): %v", err)
		}
		if len(p.Payload) != 1 || p.Payload[0] != i {
			t.Fatalf("Pop() payload = %v, want [%d]", p.Payload, i)
		}
	}
}

func TestPushFullReturnsErrFull(t *testing.T) {
	q := New(2)
	var dest [8]byte
	if err := q.Push(KindData, dest, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(KindData, dest, []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(KindData, dest, []byte("c")); err != ErrFull {
		t.Fatalf("Push() on full queue = %v, want ErrFull", err)
	}
}

func TestPopEmptyReturnsErrEmpty(t *testing.T) {
	q := New(2)
	if _, err := q.Pop(); err != ErrEmpty {
		t.Fatalf("Pop() on empty queue = %v, want ErrEmpty", err)
	}
}

func TestPayloadIsCopied(t *testing.T) {
	q := New(1)
	var dest [8]byte
	payload := []byte{1, 2, 3}
	if err := q.Push(KindData, dest, payload); err != nil {
		t.Fatal(err)
	}
	payload[0] = 99
	p, err := q.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if p.Payload[0] != 1 {
		t.Fatalf("queue aliased caller's slice: got %v", p.Payload)
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := New(1000)
	var dest [8]byte
	var wg sync.WaitGroup
	producers := 8
	perProducer := 100
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for q.Push(KindData, dest, []byte{byte(i)}) == ErrFull {
				}
			}
		}()
	}
	wg.Wait()
	if got := q.Length(); got != producers*perProducer {
		t.Fatalf("Length() = %d, want %d", got, producers*perProducer)
	}
}
