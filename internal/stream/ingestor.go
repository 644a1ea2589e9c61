// Package stream decodes a streaming chat response into typed events.
//
// The wire format is newline-delimited records: each line is either a JSON
// payload prefixed by "data: " or the literal terminal sentinel. One corrupt
// record is skipped and logged; it never aborts the rest of the answer.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/halden/converse/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	recordPrefix = "data: "
	doneSentinel = "[DONE]"

	// Metric field names folded out of record payloads.
	MetricSentiment = "emotion_score"
	MetricTokens    = "total_tokens"
)

// record is the raw JSON payload of one stream line. Payloads without a type
// discriminator are classified as content deltas for backward compatibility.
type record struct {
	Type         string          `json:"type,omitempty"`
	Content      string          `json:"content,omitempty"`
	Message      *domain.Message `json:"message,omitempty"`
	Field        string          `json:"field,omitempty"`
	Value        float64         `json:"value,omitempty"`
	EmotionScore *float64        `json:"emotion_score,omitempty"`
	Usage        *usage          `json:"usage,omitempty"`
}

type usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Ingestor turns a readable byte stream into a lazy, finite, non-restartable
// sequence of StreamEvents.
type Ingestor struct {
	r       io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// New wraps r. The ingestor owns r and releases it when the terminal
// sentinel arrives or Close is called, even if bytes remain unread.
func New(r io.ReadCloser) *Ingestor {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Ingestor{r: r, scanner: scanner}
}

// Next returns the next decoded event. The sequence ends with exactly one
// EventTerminal, after which Next returns io.EOF. A reader failing
// mid-stream surfaces its error so the caller can finalize partial content.
func (in *Ingestor) Next() (domain.StreamEvent, error) {
	if in.done {
		return domain.StreamEvent{}, io.EOF
	}

	for in.scanner.Scan() {
		line := strings.TrimSpace(in.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, recordPrefix) {
			log.Debug().Str("line", line).Msg("skipping unprefixed stream line")
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, recordPrefix))
		if payload == doneSentinel {
			in.terminate()
			return domain.StreamEvent{Type: domain.EventTerminal}, nil
		}

		var rec record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			log.Warn().Err(err).Msg("skipping malformed stream record")
			continue
		}
		return classify(rec), nil
	}

	if err := in.scanner.Err(); err != nil {
		in.terminate()
		return domain.StreamEvent{}, &domain.TransportError{Op: "read stream", Err: err}
	}

	// The reader ended without a sentinel; treat it as a truncated stream.
	in.terminate()
	return domain.StreamEvent{}, io.ErrUnexpectedEOF
}

// Close releases the underlying reader.
func (in *Ingestor) Close() error {
	in.done = true
	return in.r.Close()
}

func (in *Ingestor) terminate() {
	in.done = true
	if err := in.r.Close(); err != nil {
		log.Debug().Err(err).Msg("closing stream reader")
	}
}

func classify(rec record) domain.StreamEvent {
	switch {
	case rec.Type == "side_message" && rec.Message != nil:
		return domain.StreamEvent{Type: domain.EventSideMessage, Message: rec.Message}
	case rec.Type == "metric":
		return domain.StreamEvent{Type: domain.EventMetricUpdate, Field: rec.Field, Value: rec.Value}
	case rec.EmotionScore != nil:
		return domain.StreamEvent{Type: domain.EventMetricUpdate, Field: MetricSentiment, Value: *rec.EmotionScore}
	case rec.Usage != nil:
		return domain.StreamEvent{Type: domain.EventMetricUpdate, Field: MetricTokens, Value: float64(rec.Usage.TotalTokens)}
	default:
		return domain.StreamEvent{Type: domain.EventContentDelta, Text: rec.Content}
	}
}
