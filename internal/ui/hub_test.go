package ui

import "testing"

func TestClientSafeSendAfterCloseDoesNotPanic(t *testing.T) {
	c := &Client{send: make(chan Envelope, 4)}
	c.Close()

	if sent := c.SafeSend(Envelope{Type: "device/ping"}); sent {
		t.Fatal("SafeSend on a closed client reported success")
	}
}

func TestClientSafeSendDeliversBeforeClose(t *testing.T) {
	c := &Client{send: make(chan Envelope, 4)}

	if sent := c.SafeSend(Envelope{Type: "device/ping"}); !sent {
		t.Fatal("SafeSend on an open client reported failure")
	}

	select {
	case env := <-c.send:
		if env.Type != "device/ping" {
			t.Fatalf("received envelope = %+v, want Type device/ping", env)
		}
	default:
		t.Fatal("expected the envelope to be queued on c.send")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := &Client{send: make(chan Envelope, 4)}
	c.Close()
	c.Close() // must not double-close the channel
}

// Simulates InitializeDisplayCommand racing Hub.Run's unregister handling
// of the same client: a Close concurrent with a burst of SafeSend calls
// must never panic.
func TestClientSafeSendRacesClose(t *testing.T) {
	c := &Client{send: make(chan Envelope, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.SafeSend(Envelope{Type: "device/ping"})
		}
	}()
	c.Close()
	<-done
}
