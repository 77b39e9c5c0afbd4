package telemetry

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/banshee-data/fleettrack/internal/httputil"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		ID:         "rec-1",
		SessionID:  "sess-1",
		VehicleID:  "van-7",
		Lat:        37.7749,
		Lng:        -122.4194,
		HeadingDeg: 45.5,
		SpeedKmh:   12.25,
		Accuracy:   6,
		Quality:    "high",
		Timestamp:  1700000000000,
		RecordedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHTTPSink_Send(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusAccepted, "")
	sink := NewHTTPSink("http://ingest.test/api/telemetry/ingest", client)

	require.NoError(t, sink.Send(context.Background(), testRecord()))
	require.Equal(t, 1, client.RequestCount())

	req := client.Requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var got Record
	require.NoError(t, json.Unmarshal(client.Body(0), &got))
	if diff := cmp.Diff(testRecord(), got); diff != "" {
		t.Errorf("posted record mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPSink_Errors(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponse(http.StatusServiceUnavailable, "try later").
		AddErrorResponse(errors.New("connection refused"))
	sink := NewHTTPSink("http://ingest.test/", client)

	err := sink.Send(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	err = sink.Send(context.Background(), testRecord())
	assert.ErrorContains(t, err, "connection refused")
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	qos      byte
	retained bool
	token    *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	p.qos, p.retained = qos, retained
	return p.token
}

func TestMQTTSink_Send(t *testing.T) {
	pub := &fakePublisher{token: newFakeToken(nil, true)}
	sink := NewMQTTSink(pub, MQTTConfig{TopicPrefix: "fleet/", QoS: 1, Retain: true})

	require.NoError(t, sink.Send(context.Background(), testRecord()))
	assert.Equal(t, []string{"fleet/van-7/telemetry"}, pub.topics)
	assert.Equal(t, byte(1), pub.qos)
	assert.True(t, pub.retained)

	var got Record
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "rec-1", got.ID)
}

func TestMQTTSink_Topic(t *testing.T) {
	sink := NewMQTTSink(&fakePublisher{}, MQTTConfig{})
	assert.Equal(t, "fleettrack/unknown/telemetry", sink.Topic(""))
	assert.Equal(t, "fleettrack/a/telemetry", sink.Topic("a"))
}

func TestMQTTSink_Failures(t *testing.T) {
	pub := &fakePublisher{token: newFakeToken(errors.New("not connected"), true)}
	sink := NewMQTTSink(pub, MQTTConfig{})
	assert.ErrorContains(t, sink.Send(context.Background(), testRecord()), "not connected")

	// a publish that never completes is bounded by ctx
	pub.token = newFakeToken(nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Send(ctx, testRecord()), context.DeadlineExceeded)
	assert.NoError(t, sink.Close())
}

func TestMultiSink(t *testing.T) {
	var calls int
	ok := SinkFunc(func(context.Context, Record) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, Record) error { calls++; return errors.New("boom") })

	err := MultiSink{ok, bad, ok}.Send(context.Background(), testRecord())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3, calls)
	assert.NoError(t, MultiSink{ok}.Send(context.Background(), testRecord()))
	assert.NoError(t, Discard.Send(context.Background(), testRecord()))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Record{testRecord()}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"rec-1", "sess-1", "van-7", "37.7749", "-122.4194", "45.5", "12.25",
		"6", "high", "1700000000000", "2025-03-01T12:00:00Z",
	}, rows[1])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, []Record{testRecord()}))
	var got []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got, 1)
}
