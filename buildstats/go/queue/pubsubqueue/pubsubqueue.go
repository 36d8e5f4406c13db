// Package pubsubqueue implements queue.Queue on Google Cloud Pub/Sub.
package pubsubqueue

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"

	"go.buildstats.org/infra/buildstats/go/queue"
	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
)

// Queue implements queue.Queue. Redelivery of nacked jobs is bounded by the
// subscription's retry policy, not by this package.
type Queue struct {
	topic        *pubsub.Topic
	subscription *pubsub.Subscription

	published   metrics2.Counter
	received    metrics2.Counter
	undecodable metrics2.Counter
}

// New returns a *Queue on the given topic and subscription, which must
// already exist.
func New(ctx context.Context, projectID, topicName, subscriptionName string) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, skerr.Wrapf(err, "Creating PubSub client for project %q", projectID)
	}
	topic := client.Topic(topicName)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "Checking topic %q", topicName)
	}
	if !ok {
		return nil, skerr.Fmt("Topic %q does not exist in project %q.", topicName, projectID)
	}
	return &Queue{
		topic:        topic,
		subscription: client.Subscription(subscriptionName),
		published:    metrics2.GetCounter("buildstats_queue_published"),
		received:     metrics2.GetCounter("buildstats_queue_received"),
		undecodable:  metrics2.GetCounter("buildstats_queue_undecodable"),
	}, nil
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return skerr.Wrap(err)
	}
	if _, err := q.topic.Publish(ctx, &pubsub.Message{Data: b}).Get(ctx); err != nil {
		return skerr.Wrapf(err, "Publishing job %q", msg.JobID)
	}
	q.published.Inc(1)
	return nil
}

// Start implements queue.Queue.
func (q *Queue) Start(ctx context.Context) (<-chan queue.Delivery, error) {
	ch := make(chan queue.Delivery)
	go func() {
		defer close(ch)
		err := q.subscription.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			var msg queue.Message
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				// A malformed message can never succeed, so ack it rather
				// than loop on redelivery.
				sklog.Errorf("Dropping undecodable queue message: %s", err)
				q.undecodable.Inc(1)
				m.Ack()
				return
			}
			q.received.Inc(1)
			select {
			case ch <- queue.Delivery{
				Message: msg,
				Ack:     m.Ack,
				Nack:    m.Nack,
			}:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			sklog.Errorf("PubSub receive loop exited: %s", err)
		}
	}()
	return ch, nil
}

// Confirm Queue implements queue.Queue.
var _ queue.Queue = (*Queue)(nil)
