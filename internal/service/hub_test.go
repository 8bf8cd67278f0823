package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

type MockObserver struct {
	online atomic.Int64
	pushes atomic.Int64
}

func (m *MockObserver) IncOnline()                          { m.online.Add(1) }
func (m *MockObserver) DecOnline()                          { m.online.Add(-1) }
func (m *MockObserver) RecordPush()                         { m.pushes.Add(1) }
func (m *MockObserver) ObservePushLatency(duration float64) {}
func (m *MockObserver) UpdateEventLag(lag int)              {}

func TestHub_Concurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(&MockObserver{}, 100*time.Millisecond, 512)
	go hub.Run(ctx)

	var wg sync.WaitGroup
	clientCount := 50
	msgCount := 200

	clients := make([]*Client, clientCount)

	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c := &Client{Send: make(chan v1.Message, 50)}
			clients[idx] = c
			hub.Register <- c
		}(i)
	}
	wg.Wait()

	broadcastDone := make(chan struct{})

	go func() {
		for i := 0; i < msgCount; i++ {
			hub.Broadcast <- v1.Message{
				Key:      "ai_suggestions",
				Revision: int64(i),
				Action:   constraints.PUT,
			}
			// let unregistering interleave
			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		close(broadcastDone)
	}()

	go func() {
		for i := 0; i < clientCount/2; i++ {
			time.Sleep(2 * time.Millisecond)
			hub.Leave(clients[i])
		}
	}()

	var readWg sync.WaitGroup
	for i := 0; i < clientCount; i++ {
		readWg.Add(1)
		go func(c *Client) {
			defer readWg.Done()
			timeout := time.After(3 * time.Second)
			for {
				select {
				case _, ok := <-c.Send:
					if !ok {
						return
					}
				case <-broadcastDone:
					for {
						select {
						case _, ok := <-c.Send:
							if !ok {
								return
							}
						default:
							return
						}
					}
				case <-timeout:
					return
				}
			}
		}(clients[i])
	}

	readWg.Wait()
}

func TestHub_ScopedMessagesReachMatchingClientsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(&MockObserver{}, time.Hour, 16)
	go hub.Run(ctx)

	orgA := &Client{Send: make(chan v1.Message, 4), Scopes: map[string]string{constraints.ScopeOrganization: "org-a"}}
	orgB := &Client{Send: make(chan v1.Message, 4), Scopes: map[string]string{constraints.ScopeOrganization: "org-b"}}
	sdk := &Client{Send: make(chan v1.Message, 4)}
	for _, c := range []*Client{orgA, orgB, sdk} {
		hub.Join(c)
	}

	hub.Publish(v1.Message{Key: "bulk_export", Revision: 7, ScopeType: constraints.ScopeOrganization, ScopeID: "org-a"})
	hub.Publish(v1.Message{Key: "document_vault", Revision: 8})

	expect := func(name string, c *Client, keys ...string) {
		t.Helper()
		for _, want := range keys {
			select {
			case msg := <-c.Send:
				if msg.Key != want {
					t.Errorf("%s: got %s, want %s", name, msg.Key, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("%s: timed out waiting for %s", name, want)
			}
		}
	}
	expect("org-a", orgA, "bulk_export", "document_vault")
	expect("sdk", sdk, "bulk_export", "document_vault")
	expect("org-b", orgB, "document_vault")
}

func TestHub_HeartbeatAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	obs := &MockObserver{}
	hub := NewHub(obs, 20*time.Millisecond, 0)
	go hub.Run(ctx)

	c := &Client{Send: make(chan v1.Message, 4)}
	if !hub.Join(c) {
		t.Fatal("join refused by running hub")
	}

	select {
	case msg := <-c.Send:
		if msg.Type != constraints.MessagePing {
			t.Errorf("expected ping, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat received")
	}

	cancel()
	<-hub.Done()
	for range c.Send {
	}
	if obs.online.Load() != 0 {
		t.Errorf("online gauge = %d after shutdown", obs.online.Load())
	}
	if hub.Join(&Client{Send: make(chan v1.Message)}) {
		t.Error("stopped hub accepted a client")
	}
	// must not block
	hub.Leave(c)
}
