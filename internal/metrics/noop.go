package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobStarted()                                                  {}
func (n *NoopSink) JobFinished(terminal string, duration time.Duration)          {}
func (n *NoopSink) StageCompleted(stage, outcome string, duration time.Duration) {}
func (n *NoopSink) StageStalled(stage string)                                    {}
func (n *NoopSink) EventPublished(kind string)                                   {}
func (n *NoopSink) SubscriberFault()                                             {}
