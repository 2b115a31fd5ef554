package durablesaga

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// fakeHost answers every activity immediately. Activities listed in
// failures fail; all others echo their input unless outputs has a value
// for them. Every schedule and await is appended to events.
type fakeHost struct {
	failures map[ActivityName]error
	outputs  map[ActivityName]any
	calls    []fakeCall
	events   []string
	now      time.Time
}

type fakeCall struct {
	Activity ActivityName
	Input    json.RawMessage
	Options  ActivityOptions
}

var _ Host = (*fakeHost)(nil)

func newFakeHost() *fakeHost {
	return &fakeHost{
		failures: make(map[ActivityName]error),
		outputs:  make(map[ActivityName]any),
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (h *fakeHost) ExecuteActivity(opts ActivityOptions, name ActivityName, input any) Future {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	h.calls = append(h.calls, fakeCall{Activity: name, Input: raw, Options: opts})
	h.events = append(h.events, "schedule:"+string(name))
	return &fakeFuture{host: h, name: name, input: raw}
}

func (h *fakeHost) Now() time.Time {
	return h.now
}

func (h *fakeHost) InstanceID() InstanceID {
	return "fake-instance"
}

func (h *fakeHost) Logger() *zap.Logger {
	return zap.NewNop()
}

func (h *fakeHost) activities() []ActivityName {
	names := make([]ActivityName, len(h.calls))
	for i, c := range h.calls {
		names[i] = c.Activity
	}
	return names
}

type fakeFuture struct {
	host  *fakeHost
	name  ActivityName
	input json.RawMessage
}

func (f *fakeFuture) Get(valuePtr any) error {
	f.host.events = append(f.host.events, "get:"+string(f.name))
	f.host.now = f.host.now.Add(time.Second)

	if err := f.host.failures[f.name]; err != nil {
		return &ActivityError{Activity: f.name, Message: err.Error()}
	}
	out := json.RawMessage(f.input)
	if v, ok := f.host.outputs[f.name]; ok {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out = data
	}
	if valuePtr == nil {
		return nil
	}
	return json.Unmarshal(out, valuePtr)
}
