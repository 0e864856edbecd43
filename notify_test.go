package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	key  string
	body []byte
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	failKey  string
}

func (p *recordingPublisher) PublishContext(ctx context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.failKey {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, publishedMessage{key: key, body: body})
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for _, m := range p.messages {
		keys = append(keys, m.key)
	}
	return keys
}

func TestNotify(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(pub)

	s := CrawlSummary{
		RunID:      "run-1",
		Packages:   10,
		Extensions: []string{"saltext-a", "saltext-b"},
		Added:      []string{"saltext-b"},
		Removed:    []string{"saltext-old"},
	}
	require.NoError(t, n.Notify(context.Background(), s))

	require.Len(t, pub.messages, 3)
	assert.Equal(t, "saltext.added.saltext-b", pub.messages[0].key)
	assert.Equal(t, "saltext.removed.saltext-old", pub.messages[1].key)
	assert.Equal(t, completeKey, pub.messages[2].key)

	var ev ExtensionEvent
	require.NoError(t, json.Unmarshal(pub.messages[1].body, &ev))
	assert.Equal(t, ExtensionEvent{RunID: "run-1", Event: eventRemoved, Package: "saltext-old"}, ev)

	var got CrawlSummary
	require.NoError(t, json.Unmarshal(pub.messages[2].body, &got))
	assert.Equal(t, s, got)
}

func TestNotifyContinuesPastFailures(t *testing.T) {
	pub := &recordingPublisher{failKey: "saltext.added.saltext-a"}
	n := NewNotifier(pub)

	err := n.Notify(context.Background(), CrawlSummary{
		RunID: "run-2",
		Added: []string{"saltext-a", "saltext-b"},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"saltext.added.saltext-b", completeKey}, pub.keys())
}
