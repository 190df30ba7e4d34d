package baseline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"bullionwatch/internal/feed"
	"bullionwatch/internal/fetcher"
	"bullionwatch/internal/rates"
)

const dayLayout = "2006-01-02"

// ErrNoHistory is returned when the endpoint has no usable record for a day.
var ErrNoHistory = errors.New("baseline: no historical record")

// Record is one historical observation.
type Record struct {
	CreatedAt time.Time
	Quote     rates.Quote
}

// HistoryOptions parameterise the historical rates client.
type HistoryOptions struct {
	URL        string
	Addressing feed.Addressing
}

// HistoryClient reads the historical range endpoint.
type HistoryClient struct {
	opts   HistoryOptions
	source fetcher.Source
	logger zerolog.Logger
}

// NewHistoryClient builds a client that fetches through source.
func NewHistoryClient(opts HistoryOptions, source fetcher.Source, logger zerolog.Logger) *HistoryClient {
	return &HistoryClient{
		opts:   opts,
		source: source,
		logger: logger.With().Str("component", "history_client").Logger(),
	}
}

type historyResponse struct {
	Data []historyItem `json:"data"`
}

type historyItem struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt string          `json:"createdAt"`
}

// FetchRange returns every decodable record between start and end (inclusive
// calendar days), oldest first. Records that fail to decode are skipped.
func (c *HistoryClient) FetchRange(ctx context.Context, start, end time.Time) ([]Record, error) {
	if c.opts.URL == "" {
		return nil, errors.New("history url not configured")
	}

	endpoint, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse history url: %w", err)
	}
	q := endpoint.Query()
	q.Set("startDate", start.Format(dayLayout))
	q.Set("endDate", end.Format(dayLayout))
	endpoint.RawQuery = q.Encode()

	body, err := c.source.Fetch(ctx, endpoint.String())
	if err != nil {
		return nil, err
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}

	records := make([]Record, 0, len(resp.Data))
	for i, item := range resp.Data {
		rec, err := c.decodeItem(item)
		if err != nil {
			c.logger.Debug().Err(err).Int("index", i).Msg("skip history item")
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// FetchDay returns the latest record stored for the given calendar day.
func (c *HistoryClient) FetchDay(ctx context.Context, day time.Time) (rates.Quote, error) {
	records, err := c.FetchRange(ctx, day, day)
	if err != nil {
		return rates.Quote{}, err
	}
	if len(records) == 0 {
		return rates.Quote{}, fmt.Errorf("%w for %s", ErrNoHistory, day.Format(dayLayout))
	}
	return records[len(records)-1].Quote, nil
}

func (c *HistoryClient) decodeItem(item historyItem) (Record, error) {
	payload := bytes.TrimSpace(item.Data)
	// the endpoint stores the feed payload as a JSON string
	if len(payload) > 0 && payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return Record{}, fmt.Errorf("decode embedded payload: %w", err)
		}
		payload = []byte(inner)
	}

	quote, err := feed.Parse(payload, feed.FormatJSON, c.opts.Addressing)
	if err != nil {
		return Record{}, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse createdAt %q: %w", item.CreatedAt, err)
	}
	return Record{CreatedAt: createdAt, Quote: quote}, nil
}

// Daily keeps the latest record of each calendar day, in loc. records must be
// sorted oldest first.
func Daily(records []Record, loc *time.Location) []Record {
	if loc == nil {
		loc = time.UTC
	}
	var out []Record
	for _, rec := range records {
		day := rec.CreatedAt.In(loc).Format(dayLayout)
		if n := len(out); n > 0 && out[n-1].CreatedAt.In(loc).Format(dayLayout) == day {
			out[n-1] = rec
			continue
		}
		out = append(out, rec)
	}
	return out
}
