package baseline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bullionwatch/internal/feed"
	"bullionwatch/internal/fetcher"
	"bullionwatch/internal/rates"
)

const historyBody = `{
  "data": [
    {"data": "[[\"a\",\"1\"],[\"b\",\"2\"],[\"c\",\"3\"],[\"d\",\"4\"],[\"S\",\"705.00\"],[\"G\",\"58,100.00\"]]", "createdAt": "2025-03-13T18:00:00.000Z"},
    {"data": "[[\"a\",\"1\"],[\"b\",\"2\"],[\"c\",\"3\"],[\"d\",\"4\"],[\"S\",\"701.00\"],[\"G\",\"58,050.00\"]]", "createdAt": "2025-03-13T06:00:00.000Z"},
    {"data": "not json", "createdAt": "2025-03-13T20:00:00.000Z"}
  ],
  "stats": {}
}`

var jsonAddressing = feed.Addressing{
	Gold:   feed.Address{Row: 5, Column: 1},
	Silver: feed.Address{Row: 4, Column: 1},
}

func TestHistoryFetchDay(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(historyBody))
	}))
	defer srv.Close()

	src := fetcher.NewHTTPSource(fetcher.SourceOptions{}, zerolog.Nop())
	client := NewHistoryClient(HistoryOptions{URL: srv.URL + "/api/rates", Addressing: jsonAddressing}, src, zerolog.Nop())

	quote, err := client.FetchDay(context.Background(), time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "endDate=2025-03-13&startDate=2025-03-13", query)
	assert.Equal(t, "58,100.00", quote.Gold)
	assert.Equal(t, "705.00", quote.Silver)
}

func TestHistoryFetchRangeOrdered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(historyBody))
	}))
	defer srv.Close()

	src := fetcher.NewHTTPSource(fetcher.SourceOptions{}, zerolog.Nop())
	client := NewHistoryClient(HistoryOptions{URL: srv.URL, Addressing: jsonAddressing}, src, zerolog.Nop())

	day := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)
	records, err := client.FetchRange(context.Background(), day, day)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].CreatedAt.Before(records[1].CreatedAt))
	assert.Equal(t, "58,050.00", records[0].Quote.Gold)
}

func TestHistoryFetchDayEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	src := fetcher.NewHTTPSource(fetcher.SourceOptions{}, zerolog.Nop())
	client := NewHistoryClient(HistoryOptions{URL: srv.URL, Addressing: jsonAddressing}, src, zerolog.Nop())

	_, err := client.FetchDay(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestHistoryUnreachableFallsBackToEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := fetcher.NewHTTPSource(fetcher.SourceOptions{}, zerolog.Nop())
	client := NewHistoryClient(HistoryOptions{URL: srv.URL, Addressing: jsonAddressing}, src, zerolog.Nop())
	r := NewResolver(Options{}, client, zerolog.Nop())

	b := r.Resolve(context.Background(), "58,400.00", "700.00", time.Now())
	assert.True(t, b.Estimated)
	assert.Equal(t, "58,108.00", b.Gold.Baseline)
	assert.Equal(t, "+292", b.Gold.Delta.String())
}

func TestDailyKeepsLatestPerDay(t *testing.T) {
	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return ts
	}
	records := []Record{
		{CreatedAt: at("2025-03-12T06:00:00Z"), Quote: rates.Quote{Gold: "1"}},
		{CreatedAt: at("2025-03-12T18:00:00Z"), Quote: rates.Quote{Gold: "2"}},
		{CreatedAt: at("2025-03-13T06:00:00Z"), Quote: rates.Quote{Gold: "3"}},
	}

	daily := Daily(records, time.UTC)
	require.Len(t, daily, 2)
	assert.Equal(t, "2", daily[0].Quote.Gold)
	assert.Equal(t, "3", daily[1].Quote.Gold)
}
