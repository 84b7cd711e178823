package eventbus

import "testing"

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBus(nil)
	inbox, _ := b.Subscribe(TopicMeasurement, 4)
	b.Publish(TopicMeasurement, "m1")

	select {
	case ev := <-inbox.C:
		if ev.Payload != "m1" {
			t.Fatalf("payload = %v, want m1", ev.Payload)
		}
	default:
		t.Fatalf("expected a delivered event")
	}
}

func TestBus_DropOldestOnFullInbox(t *testing.T) {
	b := NewBus(nil)
	inbox, _ := b.Subscribe(TopicAlert, 4)

	for i := 0; i < 100; i++ {
		b.Publish(TopicAlert, i)
	}

	if inbox.Dropped() != 96 {
		t.Fatalf("Dropped() = %d, want 96", inbox.Dropped())
	}

	var got []int
	for {
		select {
		case ev := <-inbox.C:
			got = append(got, ev.Payload.(int))
			continue
		default:
		}
		break
	}
	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
	want := []int{96, 97, 98, 99}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("got[%d] = %d, want %d (got=%v)", i, got[i], v, got)
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	inbox, h := b.Subscribe(TopicHealth, 4)
	b.Unsubscribe(TopicHealth, h)
	b.Publish(TopicHealth, "should not arrive")

	select {
	case ev := <-inbox.C:
		t.Fatalf("unexpected event after unsubscribe: %v", ev)
	default:
	}
}

func TestBus_TopicsAreIndependent(t *testing.T) {
	b := NewBus(nil)
	healthInbox, _ := b.Subscribe(TopicHealth, 4)
	b.Publish(TopicAnomaly, "a1")

	select {
	case ev := <-healthInbox.C:
		t.Fatalf("unexpected cross-topic delivery: %v", ev)
	default:
	}
}
