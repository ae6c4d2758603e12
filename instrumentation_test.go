package graphqlapp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// guards the default slog logger while a test captures it
var logLock sync.Mutex

// collectLogEvent runs f with the default slog logger writing JSON to a
// buffer and returns the first record written.
func collectLogEvent(t *testing.T, o *slog.HandlerOptions, f func()) map[string]interface{} {
	t.Helper()
	logLock.Lock()
	defer logLock.Unlock()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, o)))
	defer slog.SetDefault(prev)

	f()

	var record map[string]interface{}
	require.NoError(t, json.NewDecoder(&buf).Decode(&record), "no log record written")
	return record
}

// finishEvent starts a request event, lets f fill it through the context and
// returns the logged record.
func finishEvent(t *testing.T, o *slog.HandlerOptions, f func(ctx context.Context)) map[string]interface{} {
	t.Helper()
	ctx, e := startEvent(context.Background(), requestEventName)
	return collectLogEvent(t, o, func() {
		f(ctx)
		e.finish()
	})
}

func TestAddFieldWithoutEvent(t *testing.T) {
	assert.NotPanics(t, func() {
		AddField(context.Background(), "request.id", "abc")
		AddFields(context.Background(), EventFields{"operation.name": "Greeting"})
	})
	assert.Nil(t, getEvent(context.Background()))
}

func TestRequestEventFields(t *testing.T) {
	record := finishEvent(t, nil, func(ctx context.Context) {
		AddField(ctx, "request.id", "abc")
		AddFields(ctx, EventFields{
			"operation.name": "Greeting",
			"operation.type": "query",
		})
	})

	assert.Equal(t, "query", record["msg"])
	assert.Equal(t, "abc", record["request.id"])
	assert.Equal(t, "Greeting", record["operation.name"])
}

func TestRequestEventName(t *testing.T) {
	assert.Equal(t, "request", requestEventName(EventFields{}))
	assert.Equal(t, "request", requestEventName(EventFields{"operation.type": ""}))
	assert.Equal(t, "mutation", requestEventName(EventFields{"operation.type": "mutation"}))
}

func TestRequestEventTiming(t *testing.T) {
	start := time.Now()
	record := finishEvent(t, nil, func(context.Context) {
		time.Sleep(time.Millisecond)
	})

	ts, ok := record["time"].(string)
	require.True(t, ok, "missing time")
	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, start, timestamp, time.Second)

	dur, ok := record["duration"].(string)
	require.True(t, ok, "missing duration")
	duration, err := time.ParseDuration(dur)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, duration, time.Millisecond)
}

func TestRequestEventWrittenOnce(t *testing.T) {
	var calls int
	ctx, e := startEvent(context.Background(), func(EventFields) string {
		calls++
		return "request"
	})
	collectLogEvent(t, nil, func() {
		AddField(ctx, "response.status", 200)
		e.finish()
		e.finish()
	})
	assert.Equal(t, 1, calls)
}

func TestEventDebugEnabled(t *testing.T) {
	for level, expected := range map[slog.Level]bool{
		slog.LevelInfo:  false,
		slog.LevelDebug: true,
	} {
		record := finishEvent(t, &slog.HandlerOptions{Level: level}, func(ctx context.Context) {
			e := getEvent(ctx)
			e.addField("debug", e.debugEnabled())
		})
		assert.Equal(t, expected, record["debug"], level.String())
	}
}

func TestEventLevel(t *testing.T) {
	for name, tc := range map[string]struct {
		fields   EventFields
		expected string
	}{
		"served":   {EventFields{"response.status": 200}, "INFO"},
		"rejected": {EventFields{"response.status": 400, "request.rejected": "Invalid file map"}, "WARN"},
		"failed":   {EventFields{"response.status": 500}, "ERROR"},
	} {
		t.Run(name, func(t *testing.T) {
			record := finishEvent(t, nil, func(ctx context.Context) {
				AddFields(ctx, tc.fields)
			})
			assert.Equal(t, tc.expected, record["level"])
		})
	}
}
