package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/storage"
	"github.com/nicktill/queuetrends/pkg/storage/memory"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func rd(id, counter string, ts time.Time) reading.Reading {
	return reading.Reading{DeviceID: id, CounterName: counter, Timestamp: ts, Fields: map[string]any{"inCount": 3.0}}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_TopicRouting(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv, "")
	dev := dial(t, srv, "?device=dev-2")
	counter := dial(t, srv, "?counter=PIZZA")
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, rd("dev-1", "pizza", t0)))
	require.NoError(t, hub.Publish(ctx, rd("dev-2", "salad", t0)))

	ev := readEvent(t, all)
	require.Equal(t, "reading", ev.Type)
	require.Equal(t, "dev-1", ev.Reading["deviceId"])
	require.Equal(t, "dev-2", readEvent(t, all).Reading["deviceId"])

	require.Equal(t, "dev-2", readEvent(t, dev).Reading["deviceId"])

	ev = readEvent(t, counter)
	require.Equal(t, "dev-1", ev.Reading["deviceId"])
	require.Equal(t, 3.0, ev.Reading["inCount"])
}

func TestTopics(t *testing.T) {
	require.Equal(t, []string{"all", "device:d1", "counter:pizza"}, Topics(rd("d1", "PIZZA", t0)))
	require.Equal(t, []string{"all", "device:d1"}, Topics(rd("d1", "", t0)))
}

type fakeToken struct{ err error }

func (f fakeToken) Wait() bool { return true }
func (f fakeToken) WaitTimeout(time.Duration) bool { return true }
func (f fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f fakeToken) Error() error { return f.err }

type fakeMQTT struct {
	mqtt.Client
	mu     sync.Mutex
	topics []string
	fail   bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	if f.fail {
		return fakeToken{err: errors.New("not connected")}
	}
	return fakeToken{}
}

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisherWithClient(client, "site/")

	require.NoError(t, p.Publish(context.Background(), rd("d1", "PIZZA", t0)))
	require.Equal(t, []string{"site/device/d1", "site/counter/pizza"}, client.topics)

	client.fail = true
	require.Error(t, p.Publish(context.Background(), rd("d1", "", t0)))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}

	require.NoError(t, p.Publish(context.Background(), rd("d7", "PIZZA", t0)))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "d7", string(w.msgs[0].Key))
	require.True(t, w.msgs[0].Time.Equal(t0))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &payload))
	require.Equal(t, "PIZZA", payload["counterName"])
}

type recorder struct {
	mu   sync.Mutex
	name string
	got  []reading.Reading
	err  error
}

func (r *recorder) Publish(_ context.Context, rd reading.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, rd)
	return nil
}

func (r *recorder) Name() string { return r.name }

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("down")}
	m := Multi{ok, bad}

	err := m.Publish(context.Background(), rd("d1", "", t0))
	require.ErrorContains(t, err, "bad: down")
	require.Len(t, ok.got, 1)
	require.Equal(t, "ok+bad", m.Name())
}

type scriptedSource struct {
	batches [][]reading.Reading
	errs    []error
	calls   int
}

func (s *scriptedSource) Recent(_ context.Context, limit int) ([]reading.Reading, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	return nil, nil
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) RecordSuccess()      { o.ok++ }
func (o *countingObserver) RecordFailure(error) { o.failed++ }

func TestPoller_DeduplicatesAndArchives(t *testing.T) {
	src := &scriptedSource{
		batches: [][]reading.Reading{
			{rd("d1", "", t0), rd("d2", "", t0)},
			{rd("d1", "", t0), rd("d2", "", t0), rd("d1", "", t0.Add(time.Second))},
			nil,
		},
		errs: []error{nil, nil, errors.New("upstream down")},
	}
	store := memory.New()
	pub := &recorder{name: "rec"}
	obs := &countingObserver{}
	p := NewPoller(src, PollerConfig{Store: store, Publisher: pub, Observer: obs})
	ctx := context.Background()

	n, err := p.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = p.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, pub.got, 3)

	p.tick(ctx)
	require.Equal(t, 1, obs.failed)

	archived, err := store.Query(ctx, storage.QueryRequest{Start: t0, End: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, archived, 3)
}

func TestPoller_PublishFailureSkipsReading(t *testing.T) {
	src := &scriptedSource{batches: [][]reading.Reading{{rd("d1", "", t0)}}}
	pub := &recorder{name: "rec", err: errors.New("broker gone")}
	obs := &countingObserver{}
	p := NewPoller(src, PollerConfig{Publisher: pub, Observer: obs})

	p.tick(context.Background())
	require.Equal(t, 1, obs.ok)
	require.Equal(t, 0, obs.failed)
}

func TestHub_PublishWithoutSubscribersQueuesNothing(t *testing.T) {
	hub := NewHub()
	require.False(t, hub.HasClients())

	for i := 0; i < config.WSBroadcastBuffer+10; i++ {
		require.NoError(t, hub.Publish(context.Background(), rd("d1", "PIZZA", t0)))
	}
	require.Zero(t, len(hub.broadcast))
}
