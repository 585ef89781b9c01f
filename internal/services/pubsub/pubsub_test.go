package pubsub

import (
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	ps := New()
	if ps == nil {
		t.Fatal("New() returned nil")
	}
	if ps.subscribers == nil {
		t.Error("subscribers map should be initialized")
	}
}

func TestSubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicCabinetsUpdated, "", 10)
	if sub == nil {
		t.Fatal("Subscribe() returned nil")
	}
	if sub.Topic != TopicCabinetsUpdated {
		t.Errorf("Expected topic %s, got %s", TopicCabinetsUpdated, sub.Topic)
	}
	if cap(sub.Channel) != 10 {
		t.Errorf("Expected channel buffer size 10, got %d", cap(sub.Channel))
	}
	if count := ps.SubscriberCount(TopicCabinetsUpdated); count != 1 {
		t.Errorf("Expected 1 subscriber, got %d", count)
	}
}

func TestHandle_DeliversSynchronously(t *testing.T) {
	ps := New()

	var got []Event
	ps.Handle(TopicSelectingNewGame, "", func(e Event) {
		got = append(got, e)
	})

	ps.Publish(TopicSelectingNewGame, "10.0.0.5", "payload")

	// No waiting: the handler has already run by the time Publish returns.
	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Filter != "10.0.0.5" || got[0].Payload != "payload" {
		t.Errorf("Unexpected event %+v", got[0])
	}
}

func TestHandle_RegistrationOrder(t *testing.T) {
	ps := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		ps.Handle(TopicChangeCabinetType, "", func(Event) {
			order = append(order, i)
		})
	}

	ps.Publish(TopicChangeCabinetType, "", nil)

	for i, v := range order {
		if v != i {
			t.Fatalf("Expected registration order, got %v", order)
		}
	}
	if len(order) != 5 {
		t.Errorf("Expected 5 deliveries, got %d", len(order))
	}
}

func TestHandle_NoReplayForLateSubscribers(t *testing.T) {
	ps := New()
	ps.Publish(TopicSelectedNewGame, "", "early")

	called := false
	ps.Handle(TopicSelectedNewGame, "", func(Event) { called = true })
	if called {
		t.Error("Late subscriber must not see earlier events")
	}
}

func TestHandle_ReentrantPublish(t *testing.T) {
	ps := New()

	var seen []Topic
	ps.Handle(TopicSelectedNewGame, "", func(e Event) {
		seen = append(seen, e.Topic)
		ps.Publish(TopicChangeConfigButtons, "", nil)
	})
	ps.Handle(TopicChangeConfigButtons, "", func(e Event) {
		seen = append(seen, e.Topic)
	})

	ps.Publish(TopicSelectedNewGame, "", nil)

	if len(seen) != 2 || seen[0] != TopicSelectedNewGame || seen[1] != TopicChangeConfigButtons {
		t.Errorf("Unexpected delivery sequence %v", seen)
	}
}

func TestHandle_UnsubscribeDuringPublish(t *testing.T) {
	ps := New()

	var second *Subscriber
	calls := 0
	ps.Handle(TopicSelectingNewGame, "", func(Event) {
		ps.Unsubscribe(second)
	})
	second = ps.Handle(TopicSelectingNewGame, "", func(Event) {
		calls++
	})

	ps.Publish(TopicSelectingNewGame, "", nil)
	if calls != 0 {
		t.Error("Handler removed earlier in the same dispatch must not run")
	}
	if count := ps.SubscriberCount(TopicSelectingNewGame); count != 1 {
		t.Errorf("Expected 1 subscriber, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicCabinetsUpdated, "", 10)
	ps.Unsubscribe(sub)

	if count := ps.SubscriberCount(TopicCabinetsUpdated); count != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d", count)
	}

	// Channel should be closed
	select {
	case _, ok := <-sub.Channel:
		if ok {
			t.Error("Channel should be closed after unsubscribe")
		}
	default:
		t.Error("Channel should be closed and readable")
	}
}

func TestUnsubscribe_NonExistent(t *testing.T) {
	ps := New()

	fakeSub := &Subscriber{
		ID:      "fake-id",
		Topic:   TopicCabinetsUpdated,
		Channel: make(chan interface{}, 1),
	}

	// Should not panic
	ps.Unsubscribe(fakeSub)
}

func TestPublish_WithFilter(t *testing.T) {
	ps := New()

	subWithFilter := ps.Subscribe(TopicChangeCabinetType, "10.0.0.1", 10)
	subOtherFilter := ps.Subscribe(TopicChangeCabinetType, "10.0.0.2", 10)
	subNoFilter := ps.Subscribe(TopicChangeCabinetType, "", 10)

	ps.Publish(TopicChangeCabinetType, "10.0.0.1", "naomi")

	select {
	case msg := <-subWithFilter.Channel:
		if msg != "naomi" {
			t.Errorf("Expected 'naomi', got '%v'", msg)
		}
	default:
		t.Error("subWithFilter should have received the message")
	}

	select {
	case <-subOtherFilter.Channel:
		t.Error("subOtherFilter should not have received the message")
	default:
	}

	select {
	case msg := <-subNoFilter.Channel:
		if msg != "naomi" {
			t.Errorf("Expected 'naomi', got '%v'", msg)
		}
	default:
		t.Error("subNoFilter should have received the message")
	}
}

func TestPublish_ChannelFull(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicCabinetsUpdated, "", 1)
	ps.Publish(TopicCabinetsUpdated, "", "msg1")

	done := make(chan bool, 1)
	go func() {
		ps.Publish(TopicCabinetsUpdated, "", "msg2") // Should be dropped
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Publish blocked on full channel")
	}

	if msg := <-sub.Channel; msg != "msg1" {
		t.Errorf("Expected 'msg1', got '%v'", msg)
	}
}

func TestConcurrentOperations(t *testing.T) {
	ps := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := ps.Subscribe(TopicCabinetsUpdated, "", 10)
			select {
			case <-sub.Channel:
			case <-time.After(200 * time.Millisecond):
			}
			ps.Unsubscribe(sub)
		}()
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ps.Publish(TopicCabinetsUpdated, "", i)
		}(i)
	}

	wg.Wait()
}

func TestTopicConstants(t *testing.T) {
	topics := []Topic{
		TopicChangeConfigButtons,
		TopicSelectingNewGame,
		TopicSelectedNewGame,
		TopicChangeCabinetType,
		TopicCabinetsUpdated,
	}

	seen := make(map[Topic]bool)
	for _, topic := range topics {
		if seen[topic] {
			t.Errorf("Duplicate topic: %s", topic)
		}
		seen[topic] = true
	}
}
