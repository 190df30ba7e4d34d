package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"bullionwatch/internal/rates"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w, EncodingJSON, zerolog.Nop())

	snap := rates.NewSnapshot(rates.Quote{Gold: "58,400.00", Silver: "700.00"}, rates.Baseline{}, time.Now())
	p.OnSnapshotReady(snap)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte(snap.ID.String()), w.msgs[0].Key)

	var got Message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "58,400.00", got.Gold.Rate)
	assert.Equal(t, "700.00", got.Silver.Rate)
}

func TestKafkaPublisherMsgpackFailure(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w, EncodingMsgpack, zerolog.Nop())

	p.OnRefreshFailed(errors.New("upstream_unavailable: timeout"))

	require.Len(t, w.msgs, 1)
	var got Message
	require.NoError(t, msgpack.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, TypeFailure, got.Type)
	assert.Equal(t, "upstream_unavailable: timeout", got.Error)
}

func TestKafkaPublisherWriteErrorIsLogged(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(w, "", zerolog.Nop())
	assert.NotPanics(t, func() { p.OnRefreshFailed(nil) })
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaOptions{Topic: "rates"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaOptions{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	assert.Error(t, err)
}

func TestEncodeUnknown(t *testing.T) {
	_, err := Encode(Message{}, "xml")
	assert.Error(t, err)
}
