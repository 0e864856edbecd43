package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

const (
	eventAdded   = "added"
	eventRemoved = "removed"

	completeKey = "saltext.crawl.complete"
)

// Publisher is the part of *messaging.Client the notifier needs.
type Publisher interface {
	PublishContext(ctx context.Context, key string, body []byte) error
}

type Notifier struct {
	publishClient Publisher
}

func NewNotifier(publishClient Publisher) *Notifier {
	return &Notifier{publishClient: publishClient}
}

func eventKey(event, pkg string) string {
	return fmt.Sprintf("saltext.%s.%s", event, pkg)
}

func (n *Notifier) publish(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "Failed encoding message for %s", key)
	}
	return n.publishClient.PublishContext(ctx, key, body)
}

// Notify sends one message per added or removed extension followed by the
// crawl summary. Publishing continues past failures; the last one is
// returned.
func (n *Notifier) Notify(ctx context.Context, s CrawlSummary) error {
	ctx, span := otel.Tracer(otelName).Start(ctx, "Notify")
	defer span.End()

	var overallError error

	send := func(event string, pkgs []string) {
		for _, pkg := range pkgs {
			key := eventKey(event, pkg)
			err := n.publish(ctx, key, ExtensionEvent{RunID: s.RunID, Event: event, Package: pkg})
			if err != nil {
				log.Error(errors.Wrap(err, fmt.Sprintf("Error publishing message for package %s", pkg)))
				overallError = err
			}
		}
	}
	send(eventAdded, s.Added)
	send(eventRemoved, s.Removed)

	if err := n.publish(ctx, completeKey, s); err != nil {
		log.Error(errors.Wrap(err, "Error publishing crawl summary"))
		overallError = err
	}

	return overallError
}
