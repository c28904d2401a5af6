package state

import (
	"fmt"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

func TestConversationMemoryAppendOrder(t *testing.T) {
	t.Parallel()

	mem := NewConversationMemory()
	mem.Append(contractx.Exchange{Query: "first", Envelope: envelopex.Answer("1")})
	mem.Append(contractx.Exchange{Query: "second", Envelope: envelopex.Answer("2")})

	history := mem.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(history))
	}
	if history[0].Query != "first" || history[1].Query != "second" {
		t.Fatalf("unexpected order: %q, %q", history[0].Query, history[1].Query)
	}
	if history[0].At.IsZero() {
		t.Fatal("expected timestamp to be set on append")
	}
}

func TestConversationMemoryHistoryIsACopy(t *testing.T) {
	t.Parallel()

	mem := NewConversationMemory()
	mem.Append(contractx.Exchange{
		Query: "q",
		Notes: []contractx.Step{{Observation: "original"}},
	})

	history := mem.History()
	history[0].Query = "mutated"
	history[0].Notes[0].Observation = "mutated"

	again := mem.History()
	if again[0].Query != "q" || again[0].Notes[0].Observation != "original" {
		t.Fatalf("memory was mutated through a read: %+v", again[0])
	}
}

func TestConversationMemoryRecent(t *testing.T) {
	t.Parallel()

	mem := NewConversationMemory()
	for i := 0; i < 5; i++ {
		mem.Append(contractx.Exchange{Query: fmt.Sprint(i)})
	}

	recent := mem.Recent(2)
	if len(recent) != 2 || recent[0].Query != "3" || recent[1].Query != "4" {
		t.Fatalf("unexpected recent window %+v", recent)
	}
	if got := len(mem.Recent(0)); got != 5 {
		t.Fatalf("expected full history for n=0, got %d", got)
	}
}

func TestConversationMemoryConcurrentAppend(t *testing.T) {
	t.Parallel()

	mem := NewConversationMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mem.Append(contractx.Exchange{Query: fmt.Sprint(i)})
			_ = mem.History()
		}(i)
	}
	wg.Wait()

	if mem.Len() != 50 {
		t.Fatalf("expected 50 exchanges, got %d", mem.Len())
	}
}
