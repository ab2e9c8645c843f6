package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/llm"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
)

type fakeCap struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, args Args) (any, error)
}

func (f *fakeCap) Name() string { return f.name }

func (f *fakeCap) Call(ctx context.Context, args Args) (any, error) {
	f.calls.Add(1)
	return f.fn(ctx, args)
}

func blocking(name string) *fakeCap {
	return &fakeCap{name: name, fn: func(ctx context.Context, _ Args) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func failing(name string, err error) *fakeCap {
	return &fakeCap{name: name, fn: func(context.Context, Args) (any, error) { return nil, err }}
}

func newDispatcher(caps ...Capability) *Dispatcher {
	return NewDispatcher(caps, 50*time.Millisecond, BreakerSettings{Failures: 3, OpenFor: time.Hour}, metrics.NewCollector(), config.Discard())
}

func TestInvokeSuccess(t *testing.T) {
	ok := &fakeCap{name: "echo", fn: func(_ context.Context, args Args) (any, error) { return args["v"], nil }}
	d := newDispatcher(ok)

	out := d.Invoke(context.Background(), "echo", Args{"v": 42}, 0)
	assert.False(t, out.Degraded)
	assert.NoError(t, out.Err)
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, "echo", out.Capability)
}

func TestInvokeTimeoutDegrades(t *testing.T) {
	d := newDispatcher(blocking("slow"))

	start := time.Now()
	out := d.Invoke(context.Background(), "slow", nil, 20*time.Millisecond)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Nil(t, out.Value)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeUnknownCapability(t *testing.T) {
	d := newDispatcher()

	out := d.Invoke(context.Background(), "nope", nil, 0)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Err, ErrUnknownCapability)
	assert.False(t, d.Has("nope"))
}

func TestInvokeRecoversPanic(t *testing.T) {
	boom := &fakeCap{name: "boom", fn: func(context.Context, Args) (any, error) { panic("kaboom") }}
	d := newDispatcher(boom)

	out := d.Invoke(context.Background(), "boom", nil, 0)
	assert.True(t, out.Degraded)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "panicked")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	bad := failing("flaky", errors.New("connection refused"))
	d := newDispatcher(bad)

	for range 3 {
		out := d.Invoke(context.Background(), "flaky", nil, 0)
		assert.True(t, out.Degraded)
	}
	out := d.Invoke(context.Background(), "flaky", nil, 0)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), bad.calls.Load(), "open breaker must not reach the capability")
}

func TestBreakerTripsImmediatelyOnFatalError(t *testing.T) {
	bad := failing("llm", llm.ClassifyError(errors.New("401 invalid api key")))
	d := newDispatcher(bad)

	d.Invoke(context.Background(), "llm", nil, 0)
	out := d.Invoke(context.Background(), "llm", nil, 0)
	assert.ErrorIs(t, out.Err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(1), bad.calls.Load())
}

func TestBadArgsDoNotTripBreaker(t *testing.T) {
	bad := failing("strict", ErrBadArgs)
	d := newDispatcher(bad)

	for range 5 {
		out := d.Invoke(context.Background(), "strict", nil, 0)
		assert.ErrorIs(t, out.Err, ErrBadArgs)
	}
	assert.Equal(t, int32(5), bad.calls.Load())
}

func TestInvokeAllJoinsAtDeadline(t *testing.T) {
	fast := &fakeCap{name: "fast", fn: func(context.Context, Args) (any, error) { return "ok", nil }}
	d := NewDispatcher([]Capability{fast, blocking("slow")}, time.Minute, DefaultBreakerSettings(), nil, config.Discard())

	start := time.Now()
	out := d.InvokeAll(context.Background(), []Call{
		{Capability: "fast"},
		{Key: "slow-1", Capability: "slow"},
		{Capability: "missing"},
	}, 30*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, out, 3)
	assert.False(t, out["fast"].Degraded)
	assert.Equal(t, "ok", out["fast"].Value)
	assert.True(t, out["slow-1"].Degraded)
	assert.ErrorIs(t, out["slow-1"].Err, ErrTimeout)
	assert.True(t, out["missing"].Degraded)
}

func TestInvokeAllEmpty(t *testing.T) {
	d := newDispatcher()
	assert.Empty(t, d.InvokeAll(context.Background(), nil, time.Second))
}

func TestWeatherClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "25.6872", q.Get("latitude"))
		assert.Equal(t, "32.6396", q.Get("longitude"))
		assert.Equal(t, "temperature_2m,weather_code", q.Get("current"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":31.4,"weather_code":1},` +
			`"daily":{"temperature_2m_max":[36.0],"temperature_2m_min":[21.5]}}`))
	}))
	defer srv.Close()

	c := NewWeatherClient(srv.URL, srv.Client())
	v, err := c.Call(context.Background(), Args{"lat": 25.6872, "lon": 32.6396})
	require.NoError(t, err)
	assert.Equal(t, WeatherReport{Temperature: 31.4, High: 36, Low: 21.5, Code: 1, Condition: "cloudy"}, v)
}

func TestWeatherClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewWeatherClient(srv.URL, srv.Client())

	_, err := c.Call(context.Background(), Args{"lat": "north"})
	assert.ErrorIs(t, err, ErrBadArgs)

	_, err = c.Call(context.Background(), Args{"lat": 1.0, "lon": 2.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCondition(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "clear"},
		{2, "cloudy"},
		{45, "fog"},
		{61, "rain"},
		{81, "rain"},
		{73, "snow"},
		{95, "storm"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, condition(tt.code), "code %d", tt.code)
	}
}

type fakeTranslator struct {
	calls int
	err   error
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "[" + target + "] " + text, nil
}

func TestTranslateCapability(t *testing.T) {
	tr := &fakeTranslator{}
	c := NewTranslateCapability(tr)

	v, err := c.Call(context.Background(), Args{"text": "Hello", "source": "en", "target": "de"})
	require.NoError(t, err)
	assert.Equal(t, Translation{Text: "[de] Hello", Target: "de"}, v)

	v, err = c.Call(context.Background(), Args{"text": "Hello", "source": "en", "target": "en"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", v.(Translation).Text)
	assert.Equal(t, 1, tr.calls, "same-language call skips the translator")

	_, err = c.Call(context.Background(), Args{"text": "", "target": "de"})
	assert.ErrorIs(t, err, ErrBadArgs)
}

type fakeGenerator struct{ reply string }

func (f fakeGenerator) AnswerTraveler(_ context.Context, utterance, language, facts string) (string, error) {
	return f.reply, nil
}

func TestGenerateCapability(t *testing.T) {
	c := NewGenerateCapability(fakeGenerator{reply: "  Try the night market.  "})
	v, err := c.Call(context.Background(), Args{"utterance": "what now?", "language": "en"})
	require.NoError(t, err)
	assert.Equal(t, Generation{Text: "Try the night market."}, v)

	_, err = NewGenerateCapability(fakeGenerator{reply: " "}).Call(context.Background(), Args{"utterance": "x"})
	assert.Error(t, err)

	_, err = c.Call(context.Background(), Args{})
	assert.ErrorIs(t, err, ErrBadArgs)
}
