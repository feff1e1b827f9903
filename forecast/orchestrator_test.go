package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agrocast/params"
	"agrocast/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioReply = `{
	"target": "2026-06-01",
	"prediction": {"Temp": 21.3, "Humidity": 64.2, "Wind": 3.15, "Precip": 0.4},
	"irrigation_mm": 4.2,
	"et0": 5.1,
	"etc": 5.9,
	"peff": 1.7,
	"recommendations": {
		"irrigation": "Irrigate: 4.2 mm to meet crop needs (ETc=5.90).",
		"pest": "Moderate pest risk, scout regularly.",
		"field": "Good window for field work.",
		"spray": "Excellent conditions for spraying.",
		"frost": "No frost risk."
	}
}`

func scenarioParams() params.Set {
	return params.Set{
		Lat:           45.65,
		Lon:           -73.38,
		TargetDate:    "2026-06-01",
		Kc:            1.15,
		SoilBufferMM:  2,
		EffRainFactor: 0.8,
	}
}

func scenarioResult() *Result {
	return &Result{
		Target:       "2026-06-01",
		Prediction:   Prediction{Temperature: 21.3, Humidity: 64.2, WindSpeed: 3.15, Precipitation: 0.4},
		IrrigationMM: 4.2,
		ET0:          5.1,
		ETc:          5.9,
		Peff:         1.7,
		Recommendations: map[Category]string{
			CategoryIrrigation: "Irrigate: 4.2 mm to meet crop needs (ETc=5.90).",
			CategoryPest:       "Moderate pest risk, scout regularly.",
			CategoryField:      "Good window for field work.",
			CategorySpray:      "Excellent conditions for spraying.",
			CategoryFrost:      "No frost risk.",
		},
	}
}

type recordingServer struct {
	*httptest.Server
	calls  atomic.Int32
	mu     sync.Mutex
	bodies []map[string]any
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, call int)) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(rs.calls.Add(1))
		b, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(b, &body)
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, body)
		rs.mu.Unlock()
		handler(w, n)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) requests() []map[string]any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]map[string]any(nil), rs.bodies...)
}

func waitDone(t *testing.T, sub *Submission) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("submission %d did not resolve", sub.Seq())
	}
}

func TestSubmit_ScenarioA_Succeeds(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(scenarioReply))
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	assert.Equal(t, StateIdle, o.Snapshot().State)

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	snap := o.Snapshot()
	assert.Contains(t, []State{StatePending, StateSucceeded}, snap.State)
	assert.Equal(t, uint64(1), snap.Seq)

	waitDone(t, sub)
	require.NoError(t, sub.Err())

	snap = o.Snapshot()
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, scenarioResult(), snap.Result)
	assert.Equal(t, scenarioResult(), sub.Result())
	assert.Nil(t, snap.Err)
	assert.Empty(t, snap.Message)

	bodies := srv.requests()
	require.Len(t, bodies, 1)
	assert.Equal(t, map[string]any{
		"lat":             45.65,
		"lon":             -73.38,
		"target_date":     "2026-06-01",
		"kc":              1.15,
		"soil_buffer_mm":  2.0,
		"eff_rain_factor": 0.8,
		"start":           "20000709",
		"end":             "20250831",
	}, bodies[0])
}

func TestSubmit_ScenarioB_ServerError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	waitDone(t, sub)

	snap := o.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "internal error", snap.Message)
	assert.Nil(t, snap.Result)

	var terr *transport.TransportError
	require.ErrorAs(t, snap.Err, &terr)
	assert.Equal(t, http.StatusInternalServerError, terr.Status)
	assert.ErrorAs(t, sub.Err(), &terr)
}

func TestSubmit_EmptyBodyStatusFallback(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	waitDone(t, sub)

	assert.Equal(t, "503 Service Unavailable", o.Snapshot().Message)
}

func TestSubmit_ScenarioC_InvalidDateFailsLocally(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.Write([]byte(scenarioReply))
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	p := scenarioParams()
	p.TargetDate = "not-a-date"

	sub, err := o.Submit(context.Background(), p)
	assert.Nil(t, sub)

	var verr *params.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(params.FieldTargetDate))
	assert.Equal(t, int32(0), srv.calls.Load())

	snap := o.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, err.Error(), snap.Message)
}

func TestSubmit_ValidationClearsPriorResult(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.Write([]byte(scenarioReply))
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	waitDone(t, sub)
	require.Equal(t, StateSucceeded, o.Snapshot().State)

	p := scenarioParams()
	p.Lat = 123
	_, err = o.Submit(context.Background(), p)
	require.Error(t, err)

	snap := o.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Nil(t, snap.Result)
}

func TestSubmit_MalformedResult(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.Write([]byte(`{"target":"2026-06-01","prediction":{"Temp":20}}`))
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	waitDone(t, sub)

	snap := o.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	var merr *MalformedResultError
	require.ErrorAs(t, snap.Err, &merr)
	assert.Contains(t, merr.Missing, "irrigation_mm")
	assert.Contains(t, merr.Missing, "prediction.Humidity")
	assert.Contains(t, snap.Message, "malformed forecast result")
}

func TestSubmit_SequentialCallsAreIndependent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, call int) {
		if call == 1 {
			w.Write([]byte(scenarioReply))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Choose an earlier target date."))
	})
	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	for i := 0; i < 2; i++ {
		sub, err := o.Submit(context.Background(), scenarioParams())
		require.NoError(t, err)
		waitDone(t, sub)
	}

	assert.Equal(t, int32(2), srv.calls.Load())
	snap := o.Snapshot()
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, StateFailed, snap.State)
	assert.Nil(t, snap.Result)
	assert.Equal(t, "Choose an earlier target date.", snap.Message)
}

func TestSubmit_RelativeHistoryWindow(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ int) {
		w.Write([]byte(scenarioReply))
	})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	o := NewOrchestrator(transport.New(srv.URL),
		WithHistory(params.HistoryRelative, 5),
		WithClock(func() time.Time { return now }),
		WithRoute(LegacyRoute),
	)
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	waitDone(t, sub)

	bodies := srv.requests()
	require.Len(t, bodies, 1)
	assert.Equal(t, "20210310", bodies[0]["start"])
	assert.Equal(t, "20260310", bodies[0]["end"])
	assert.Equal(t, params.Window{Start: "20210310", End: "20260310"}, o.Snapshot().Window)
}

// stepSender blocks each call until the test releases it. It ignores
// cancellation so a superseded call can still try to apply its outcome.
type stepSender struct {
	calls   atomic.Int32
	gates   []chan string
	started chan int
}

func newStepSender(n int) *stepSender {
	s := &stepSender{started: make(chan int, n)}
	for i := 0; i < n; i++ {
		s.gates = append(s.gates, make(chan string, 1))
	}
	return s
}

func (s *stepSender) Send(ctx context.Context, path string, body, out any) error {
	idx := int(s.calls.Add(1)) - 1
	s.started <- idx
	reply := <-s.gates[idx]
	if reply == "" {
		return &transport.TransportError{Message: "empty"}
	}
	return json.Unmarshal([]byte(reply), out)
}

func replyFor(target string) string {
	r := scenarioResult()
	r.Target = target
	b, _ := json.Marshal(r)
	return string(b)
}

func TestSubmit_SupersedeDiscardsStaleOutcome(t *testing.T) {
	s := newStepSender(2)
	o := NewOrchestrator(s)
	defer o.Close()

	first, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started

	p2 := scenarioParams()
	p2.TargetDate = "2026-06-02"
	second, err := o.Submit(context.Background(), p2)
	require.NoError(t, err)
	<-s.started

	snap := o.Snapshot()
	assert.Equal(t, StatePending, snap.State)
	assert.Equal(t, uint64(2), snap.Seq)

	// The newer call resolves first; the older one resolves afterwards and
	// must not overwrite it.
	s.gates[1] <- replyFor("2026-06-02")
	waitDone(t, second)
	s.gates[0] <- replyFor("2026-06-01")
	waitDone(t, first)

	assert.ErrorIs(t, first.Err(), ErrSuperseded)
	assert.Nil(t, first.Result())
	require.NoError(t, second.Err())

	snap = o.Snapshot()
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, "2026-06-02", snap.Result.Target)
}

func TestSubmit_SupersedeCancelsContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, call int) {
		if call == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte(scenarioReply))
	})

	o := NewOrchestrator(transport.New(srv.URL))
	defer o.Close()

	first, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	second, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)

	waitDone(t, first)
	waitDone(t, second)
	assert.ErrorIs(t, first.Err(), ErrSuperseded)
	assert.Equal(t, StateSucceeded, o.Snapshot().State)
	assert.Equal(t, uint64(2), o.Snapshot().Seq)
}

func TestSubmit_RejectPolicy(t *testing.T) {
	s := newStepSender(2)
	o := NewOrchestrator(s, WithPolicy(PolicyReject))
	defer o.Close()

	first, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started

	_, err = o.Submit(context.Background(), scenarioParams())
	var ierr *InProgressError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, uint64(1), ierr.Seq)
	assert.Equal(t, StatePending, o.Snapshot().State)
	assert.Equal(t, uint64(1), o.Snapshot().Seq)

	s.gates[0] <- replyFor("2026-06-01")
	waitDone(t, first)
	require.NoError(t, first.Err())

	second, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started
	s.gates[1] <- replyFor("2026-06-09")
	waitDone(t, second)
	assert.Equal(t, "2026-06-09", o.Snapshot().Result.Target)
}

func TestCancel(t *testing.T) {
	s := newStepSender(1)
	o := NewOrchestrator(s)
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started

	o.Cancel()
	assert.Equal(t, StateIdle, o.Snapshot().State)

	s.gates[0] <- replyFor("2026-06-01")
	waitDone(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrSuperseded)
	assert.Equal(t, StateIdle, o.Snapshot().State)
	assert.Nil(t, o.Snapshot().Result)
}

func TestClose(t *testing.T) {
	s := newStepSender(1)
	o := NewOrchestrator(s)

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()

	s.gates[0] <- replyFor("2026-06-01")
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.ErrorIs(t, sub.Err(), ErrSuperseded)

	_, err = o.Submit(context.Background(), scenarioParams())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSubmission_Wait(t *testing.T) {
	s := newStepSender(1)
	o := NewOrchestrator(s)
	defer func() {
		s.gates[0] <- replyFor("2026-06-01")
		o.Close()
	}()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sub.Wait(ctx), context.DeadlineExceeded)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySupersede, p)

	p, err = ParsePolicy("Reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	_, err = ParsePolicy("queue")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

type transitionLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *transitionLog) observe(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

// states renders the log as "seq:state" pairs.
func (l *transitionLog) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.snaps))
	for i, s := range l.snaps {
		out[i] = fmt.Sprintf("%d:%s", s.Seq, s.State)
	}
	return out
}

func TestObserver_TransitionOrder(t *testing.T) {
	s := newStepSender(3)
	log := &transitionLog{}
	o := NewOrchestrator(s, WithObserver(log.observe))
	defer o.Close()

	first, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started
	s.gates[0] <- replyFor("2026-06-01")
	waitDone(t, first)

	bad := scenarioParams()
	bad.TargetDate = "June 1st"
	_, err = o.Submit(context.Background(), bad)
	require.Error(t, err)

	third, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started
	fourth, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started
	s.gates[2] <- ""
	waitDone(t, fourth)
	s.gates[1] <- replyFor("2026-06-01")
	waitDone(t, third)

	o.Cancel()

	assert.Equal(t, []string{
		"1:pending", "1:succeeded",
		"2:pending", "2:failed",
		"3:pending",
		"4:pending", "4:failed",
	}, log.states())
}

func TestObserver_CancelReportsIdle(t *testing.T) {
	s := newStepSender(1)
	log := &transitionLog{}
	o := NewOrchestrator(s, WithObserver(log.observe))
	defer o.Close()

	sub, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started
	o.Cancel()
	s.gates[0] <- replyFor("2026-06-01")
	waitDone(t, sub)

	assert.Equal(t, []string{"1:pending", "1:idle"}, log.states())
}

func TestObserver_MayReenter(t *testing.T) {
	s := newStepSender(2)
	var seen []State
	var o *Orchestrator
	o = NewOrchestrator(s, WithObserver(func(snap Snapshot) {
		seen = append(seen, o.Snapshot().State)
		if snap.State == StateSucceeded && snap.Seq == 1 {
			_, err := o.Submit(context.Background(), scenarioParams())
			assert.NoError(t, err)
		}
	}))
	defer func() {
		s.gates[1] <- replyFor("2026-06-02")
		o.Close()
	}()

	first, err := o.Submit(context.Background(), scenarioParams())
	require.NoError(t, err)
	<-s.started
	s.gates[0] <- replyFor("2026-06-01")
	waitDone(t, first)
	<-s.started

	assert.Equal(t, uint64(2), o.Snapshot().Seq)
	assert.Equal(t, StatePending, o.Snapshot().State)
	require.GreaterOrEqual(t, len(seen), 3)
}

func TestSubmit_NonFiniteFailsLocally(t *testing.T) {
	s := newStepSender(1)
	o := NewOrchestrator(s)
	defer o.Close()

	p := scenarioParams()
	p.Kc = math.Inf(1)
	sub, err := o.Submit(context.Background(), p)

	assert.Nil(t, sub)
	var verr *params.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(params.FieldKc))
	assert.Equal(t, StateFailed, o.Snapshot().State)
	assert.Zero(t, s.calls.Load())
}
