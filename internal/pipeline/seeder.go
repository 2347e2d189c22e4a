package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/stockflow/internal/ids"
	"github.com/drblury/stockflow/internal/jsoncodec"
	"github.com/drblury/stockflow/internal/logging"
)

// Seeder publishes a directory of JSON event documents onto the intake
// queue, for bootstrap and demo runs.
type Seeder struct {
	dir       string
	queue     string
	publisher message.Publisher
	metrics   *Metrics
	logger    logging.ServiceLogger
}

func NewSeeder(dir, queue string, publisher message.Publisher, metrics *Metrics, logger logging.ServiceLogger) *Seeder {
	return &Seeder{
		dir:       dir,
		queue:     queue,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With(logging.LogFields{"component": "seeder"}),
	}
}

// PublishAll publishes every .json document in the seed directory, in
// sorted filename order so demo runs are reproducible. A file that fails
// to parse or publish is logged and skipped; it does not abort the batch.
// There is no consumer-side queue to quarantine into at publish time, so
// this is the one place malformed input is dropped rather than DLQ'd.
// Returns the number of documents published.
func (s *Seeder) PublishAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	// os.ReadDir returns entries sorted by filename.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	s.logger.Info("Seed documents found", logging.LogFields{
		"dir":   s.dir,
		"count": len(names),
	})

	published := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("Failed to read seed document, skipping", err, logging.LogFields{"file": name})
			s.metrics.recordSeeded("skipped")
			continue
		}

		// Parse-then-reserialize both rejects non-JSON files and
		// normalises the body to a compact document.
		var doc any
		if err := jsoncodec.Unmarshal(data, &doc); err != nil {
			s.logger.Error("Seed document is not valid JSON, skipping", err, logging.LogFields{"file": name})
			s.metrics.recordSeeded("skipped")
			continue
		}
		payload, err := jsoncodec.Marshal(doc)
		if err != nil {
			s.logger.Error("Failed to encode seed document, skipping", err, logging.LogFields{"file": name})
			s.metrics.recordSeeded("skipped")
			continue
		}

		msg := message.NewMessage(ids.NewMessageID(), payload)
		msg.Metadata.Set(MetadataContentType, contentTypeJSON)
		msg.SetContext(ctx)
		if err := s.publisher.Publish(s.queue, msg); err != nil {
			s.logger.Error("Failed to publish seed document, skipping", err, logging.LogFields{"file": name})
			s.metrics.recordSeeded("skipped")
			continue
		}

		s.metrics.recordSeeded("published")
		published++
	}

	s.logger.Info("Seed batch complete", logging.LogFields{
		"published": published,
		"skipped":   len(names) - published,
	})
	return published, nil
}
