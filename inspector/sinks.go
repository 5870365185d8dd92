package inspector

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/dommirror/inspector/internal/feed"
)

// Sink receives change-feed batches.
type Sink = feed.Sink

// Batch is one delivery of the change feed.
type Batch = feed.Batch

// Record is one change inside a Batch.
type Record = feed.Record

// NewStdoutSink creates a JSON-lines sink. A nil w means os.Stdout.
func NewStdoutSink(w io.Writer) Sink {
	return feed.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return feed.NewWebhook(url, feed.WithWebhookLogger(logger))
}

// NewCallbackSink delivers batches to fn in-process.
func NewCallbackSink(fn func(ctx context.Context, batch Batch) error) Sink {
	return feed.NewCallback(fn)
}

func configSinks(cfgs []SinkConfig, logger *slog.Logger) []Sink {
	var sinks []Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		default:
			logger.Warn("inspector: unknown sink type", "type", sc.Type)
		}
	}
	return sinks
}
