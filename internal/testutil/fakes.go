package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/javajoker/handoff-backend/internal/services"
)

// Gateway is an in-memory card processor.
type Gateway struct {
	mu       sync.Mutex
	payments map[string]*services.CapturedPayment
	Refunds  []Refund
}

type Refund struct {
	Reference      string
	Amount         int64
	IdempotencyKey string
}

func NewGateway() *Gateway {
	return &Gateway{payments: make(map[string]*services.CapturedPayment)}
}

// Capture records a succeeded payment under reference.
func (g *Gateway) Capture(reference string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[reference] = &services.CapturedPayment{
		Reference: reference,
		Amount:    amount,
		Currency:  "usd",
		Succeeded: true,
		Status:    "succeeded",
	}
}

// Authorize records a payment that has not been captured yet.
func (g *Gateway) Authorize(reference string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[reference] = &services.CapturedPayment{
		Reference: reference,
		Amount:    amount,
		Currency:  "usd",
		Status:    "requires_capture",
	}
}

func (g *Gateway) Lookup(_ context.Context, reference string) (*services.CapturedPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[reference]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", reference)
	}
	copied := *p
	return &copied, nil
}

// Refund is idempotent per key, like the real processor.
func (g *Gateway) Refund(_ context.Context, reference string, amount int64, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.Refunds {
		if r.IdempotencyKey == idempotencyKey {
			return nil
		}
	}
	g.Refunds = append(g.Refunds, Refund{Reference: reference, Amount: amount, IdempotencyKey: idempotencyKey})
	return nil
}

func (g *Gateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

// Notifier captures messages instead of sending them.
type Notifier struct {
	mu       sync.Mutex
	messages []services.Message
}

func (n *Notifier) Send(_ context.Context, msg services.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *Notifier) Messages() []services.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]services.Message(nil), n.messages...)
}

// Last returns the most recent message of the given type.
func (n *Notifier) Last(msgType string) (services.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.messages) - 1; i >= 0; i-- {
		if n.messages[i].Type == msgType {
			return n.messages[i], true
		}
	}
	return services.Message{}, false
}

// Storage keeps uploads in memory.
type Storage struct {
	mu      sync.Mutex
	Uploads map[string][]byte
}

func NewStorage() *Storage {
	return &Storage{Uploads: make(map[string][]byte)}
}

func (s *Storage) Upload(_ context.Context, file io.Reader, filename string, size int64, options services.UploadOptions) (*services.UploadResult, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	key := options.Folder + "/" + filename

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Uploads[key] = data
	return &services.UploadResult{
		URL:  "memory://" + key,
		Key:  key,
		Size: int64(len(data)),
	}, nil
}

// Cache is an in-memory ReadCache that stores JSON like the Redis cache
// and counts hits.
type Cache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]byte)}
}

func (c *Cache) Get(_ context.Context, key string, dest interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok || json.Unmarshal(raw, dest) != nil {
		return false
	}
	c.hits++
	return true
}

func (c *Cache) Set(_ context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
}

func (c *Cache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}
