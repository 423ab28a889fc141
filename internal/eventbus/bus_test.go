package eventbus

import "testing"

func TestPublishFansOutAndFilters(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	signin, unsubSignin := SubscribePrefix(b, 4, "signin.")
	defer unsubSignin()

	b.Publish(Event{Type: PluginStarted, Data: "enshansignin"})
	b.Publish(Event{Type: SigninCompleted, Data: "deepflood_sign"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(signin); got != 1 {
		t.Fatalf("prefix subscriber got %d events, want 1", got)
	}
	if e := <-signin; e.Type != SigninCompleted || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: SigninCompleted})
	}
	unsub()
	unsub()
	b.Publish(Event{Type: SigninCompleted})
}
