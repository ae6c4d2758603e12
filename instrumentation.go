package graphqlapp

import (
	"context"
	log "log/slog"
	"sort"
	"sync"
	"time"
)

const eventKey contextKey = "instrumentation"

// event accumulates the fields of one served request and writes them as a
// single log record when the request completes.
type event struct {
	nameFunc  EventNameFunc
	timestamp time.Time
	fields    EventFields
	fieldLock sync.Mutex
	writeLock sync.Once
}

// EventFields contains fields to be logged for the event
type EventFields map[string]interface{}

// EventNameFunc constructs a name for the event from the provided fields
type EventNameFunc func(EventFields) string

func startEvent(ctx context.Context, name EventNameFunc) (context.Context, *event) {
	ev := &event{
		nameFunc:  name,
		timestamp: time.Now(),
		fields:    EventFields{},
	}
	return context.WithValue(ctx, eventKey, ev), ev
}

func (e *event) addField(name string, value interface{}) {
	e.addFields(EventFields{name: value})
}

func (e *event) addFields(fields EventFields) {
	e.fieldLock.Lock()
	defer e.fieldLock.Unlock()
	for k, v := range fields {
		e.fields[k] = v
	}
}

// debugEnabled reports whether the default logger emits debug records.
func (e *event) debugEnabled() bool {
	return log.Default().Enabled(context.Background(), log.LevelDebug)
}

// level is Error for server failures and Warn for requests rejected before
// execution.
func (e *event) level() log.Level {
	if status, ok := e.fields["response.status"].(int); ok && status >= 500 {
		return log.LevelError
	}
	if _, ok := e.fields["request.rejected"]; ok {
		return log.LevelWarn
	}
	return log.LevelInfo
}

func (e *event) finish() {
	e.writeLock.Do(func() {
		e.fieldLock.Lock()
		names := make([]string, 0, len(e.fields))
		for k := range e.fields {
			names = append(names, k)
		}
		sort.Strings(names)

		attrs := make([]any, 0, len(names)+1)
		attrs = append(attrs, log.String("duration", time.Since(e.timestamp).String()))
		for _, k := range names {
			attrs = append(attrs, log.Any(k, e.fields[k]))
		}
		name, level := e.nameFunc(e.fields), e.level()
		e.fieldLock.Unlock()

		log.Default().Log(context.Background(), level, name, attrs...)
	})
}

// AddField adds the given field to the event contained in the context (if any)
func AddField(ctx context.Context, name string, value interface{}) {
	if e := getEvent(ctx); e != nil {
		e.addField(name, value)
	}
}

// AddFields adds the given fields to the event contained in the context (if any)
func AddFields(ctx context.Context, fields EventFields) {
	if e := getEvent(ctx); e != nil {
		e.addFields(fields)
	}
}

func getEvent(ctx context.Context) *event {
	e, _ := ctx.Value(eventKey).(*event)
	return e
}
