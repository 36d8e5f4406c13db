// Package queue defines the transport carrying ingestion jobs from the
// frontend to the workers.
package queue

import (
	"context"
	"encoding/json"
)

// Message is one ingestion job. It carries only references; the raw log
// itself lives in the filestore.
type Message struct {
	// JobID is the joblog entry id for this upload.
	JobID string `json:"jobId"`

	// Locator is the filestore locator of the raw log.
	Locator string `json:"locator"`

	// Facts holds the JSON-encoded request side-channel facts (extraInfo,
	// host, xcodeVersion, metadata) captured at upload time.
	Facts json.RawMessage `json:"facts,omitempty"`
}

// Delivery is a received Message plus its acknowledgement handles. Exactly
// one of Ack or Nack must be called; Nack requests redelivery.
type Delivery struct {
	Message Message
	Ack     func()
	Nack    func()
}

// Queue accepts and delivers ingestion jobs.
type Queue interface {
	// Enqueue submits a job for asynchronous processing.
	Enqueue(ctx context.Context, msg Message) error

	// Start begins delivering jobs on the returned channel. The channel is
	// closed when ctx is cancelled. Start must be called at most once.
	Start(ctx context.Context) (<-chan Delivery, error)
}
