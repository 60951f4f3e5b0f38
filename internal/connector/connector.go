package connector

import "context"

// Connector is the interface for external intake platforms (Slack today;
// the poller and dispatcher only see this surface).
type Connector interface {
	// Name returns the connector type (e.g., "slack").
	Name() string
	// Start begins listening for inbound events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers message text to a platform destination (channel or user ID).
	Send(ctx context.Context, destination, text string) error
}

// Submission is a completed intake form received from an external platform.
// Payload is the platform's raw event body, untouched, so the translator's
// configured paths resolve against exactly what the platform sent.
type Submission struct {
	UserID  string // platform identifier of the submitter
	Payload map[string]any
}

// SubmissionHandler processes intake submissions. Implementations translate
// the payload into a ticket and create the external record.
type SubmissionHandler func(ctx context.Context, sub Submission) error
