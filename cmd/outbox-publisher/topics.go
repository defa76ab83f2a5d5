package main

import (
	"context"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherSource interface {
	publisher(topic string) publisher
	stop()
}

type funcSource func(topic string) publisher

func (f funcSource) publisher(topic string) publisher { return f(topic) }
func (f funcSource) stop()                            {}

// topicPublishers keeps one ordered Publisher per topic for the life of the
// process and flushes them all on stop.
type topicPublishers struct {
	client pubSubClient

	mu      sync.Mutex
	handles map[string]*gcppubsub.Publisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, handles: make(map[string]*gcppubsub.Publisher)}
}

func (t *topicPublishers) publisher(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[topic]
	if !ok {
		h = t.client.Publisher(topic)
		if h == nil {
			return nil
		}
		h.EnableMessageOrdering = true
		t.handles[topic] = h
	}
	return orderedPublisher{h}
}

func (t *topicPublishers) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, h := range t.handles {
		h.Stop()
		delete(t.handles, topic)
	}
}

type orderedPublisher struct {
	p *gcppubsub.Publisher
}

func (o orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return orderedResult{res: o.p.Publish(ctx, msg), p: o.p, key: msg.OrderingKey}
}

type orderedResult struct {
	res *gcppubsub.PublishResult
	p   *gcppubsub.Publisher
	key string
}

// Get waits for the server id. A failed ordered publish pauses its key, so
// the key is resumed to let the retry through.
func (r orderedResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.p.ResumePublish(r.key)
	}
	return id, err
}
