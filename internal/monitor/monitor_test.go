package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/scan"
	"github.com/banshee-data/beamalign/internal/serialport"
	"github.com/banshee-data/beamalign/internal/sim"
	"github.com/banshee-data/beamalign/internal/timeutil"
)

var session = scan.Session{Range: 1000, FieldDegrees: 2, TotalSteps: 12, ResolutionSteps: 23}

func TestLive_Status(t *testing.T) {
	l := NewLive(0)
	assert.Equal(t, "idle", l.Status().String())

	require.NoError(t, l.Begin(session))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 10, Axis2: 20, Signal: 5, Seed: true}))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 33, Axis2: 20, Signal: 50, DirX: 1, DirY: 1}))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 33, Axis2: 43, Signal: 50, DirX: -1, DirY: 1}))
	l.OnProgress(scan.Progress{Completed: 3, Total: 12, Remaining: time.Minute})

	s := l.Status()
	assert.Equal(t, "1000-2.000", s.Key)
	assert.True(t, s.Running)
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 25.0, s.Percent)
	require.NotNil(t, s.Best)
	assert.Equal(t, mount.Position(33), s.Best.Axis1)
	assert.Equal(t, mount.Position(20), s.Best.Axis2, "ties keep the first maximum")
	assert.Contains(t, s.String(), "running 25.0%")

	done := session
	done.CompletedSteps = 3
	require.NoError(t, l.Finish(scan.Result{Outcome: scan.Found, Session: done}))
	s = l.Status()
	assert.False(t, s.Running)
	assert.Equal(t, "found", s.Outcome)
	assert.Contains(t, s.String(), "found")
}

func TestLive_Decimates(t *testing.T) {
	l := NewLive(4)
	require.NoError(t, l.Begin(session))
	for i := 0; i < 13; i++ {
		require.NoError(t, l.Record(scan.ScanPoint{Axis1: mount.Position(i), Seed: i == 0}))
	}
	var got []mount.Position
	for _, p := range l.Points() {
		got = append(got, p.Axis1)
	}
	// Early and late parts of the spiral keep the same spacing.
	assert.Equal(t, []mount.Position{0, 4, 8, 12}, got)
	assert.Equal(t, 12, l.Status().Samples)

	require.NoError(t, l.Begin(session))
	assert.Empty(t, l.Points())
}

func TestLive_Subscribe(t *testing.T) {
	l := NewLive(0)
	id, ch := l.Subscribe()
	require.NoError(t, l.Begin(session))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 0x4F2A, Axis2: 0xA1B3, Signal: 530, Aux: 497}))

	assert.Equal(t, "# begin 1000-2.000", <-ch)
	assert.Equal(t, "004F2A,00A1B3,530,497", <-ch)

	l.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	l.Unsubscribe(id)
}

func TestHandleStatusAndPoints(t *testing.T) {
	l := NewLive(0)
	require.NoError(t, l.Begin(session))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 1, Axis2: 2, Signal: 3, Seed: true}))

	rr := httptest.NewRecorder()
	l.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/debug/scan-status", nil))
	var s Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, "1000-2.000", s.Key)

	rr = httptest.NewRecorder()
	l.handlePoints(rr, httptest.NewRequest(http.MethodGet, "/debug/scan-points", nil))
	var points []scan.ScanPoint
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &points))
	assert.Len(t, points, 1)
}

func TestHandleScanMap(t *testing.T) {
	l := NewLive(0)
	rr := httptest.NewRecorder()
	l.handleScanMap(rr, httptest.NewRequest(http.MethodGet, "/debug/scan-map", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, l.Begin(session))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 100, Axis2: 200, Signal: 3, Seed: true}))
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 123, Axis2: 200, Signal: 9}))

	rr = httptest.NewRecorder()
	l.handleScanMap(rr, httptest.NewRequest(http.MethodGet, "/debug/scan-map", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "echarts")
}

func TestHandleTail(t *testing.T) {
	l := NewLive(0)
	ctx, cancel := context.WithCancel(context.Background())
	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.handleTail(rr, httptest.NewRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx))
	}()

	require.Eventually(t, func() bool {
		l.subscriberMu.Lock()
		defer l.subscriberMu.Unlock()
		return len(l.subscribers) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, l.Record(scan.ScanPoint{Axis1: 1, Axis2: 2, Signal: 3, Aux: 4}))
	// The handler drains the line before the context ends.
	require.Eventually(t, func() bool {
		l.subscriberMu.Lock()
		defer l.subscriberMu.Unlock()
		for _, ch := range l.subscribers {
			return len(ch) == 0
		}
		return false
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "data: 000001,000002,3,4\n\n")

	rr = httptest.NewRecorder()
	l.handleTail(rr, httptest.NewRequest(http.MethodPost, "/debug/tail", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(_ context.Context, body string) mount.Response {
	f.sent = append(f.sent, body)
	if body == "j1" {
		return mount.Response{Status: mount.StatusOK, Payload: "563412", Raw: "=563412\r", Attempts: 1}
	}
	return mount.Response{Status: mount.StatusMountError, Raw: "!0\r", Attempts: 1}
}

type fakeMover struct{ moves []string }

func (f *fakeMover) MoveToHex(_ context.Context, axis mount.Axis, target string, _ bool) error {
	f.moves = append(f.moves, fmt.Sprintf("%d:%s", axis, target))
	return nil
}

func postConsole(t *testing.T, l *Live, sender mount.Sender, mover Mover, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/debug/mount-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	l.handleMountCommand(rr, req, sender, mover)
	return rr
}

func TestHandleMountCommand(t *testing.T) {
	l := NewLive(0)
	sender := &fakeSender{}
	mover := &fakeMover{}
	post := func(command string) *httptest.ResponseRecorder {
		return postConsole(t, l, NewSharedSender(sender), mover, url.Values{"command": {command}})
	}

	rr := post(" j1 ")
	require.Equal(t, http.StatusOK, rr.Code)
	var res CommandResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, CommandResult{Command: "j1", Status: mount.StatusOK.String(), Payload: "563412", Raw: "=563412", Attempts: 1}, res)

	rr = post("K3")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Error)

	assert.Equal(t, http.StatusBadRequest, post("").Code)
	assert.Equal(t, http.StatusBadRequest, post("x9").Code)
	assert.Equal(t, []string{"j1", "K3"}, sender.sent)

	rr = postConsole(t, l, sender, mover, url.Values{"axis": {"2"}, "target": {"123456"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"2:123456"}, mover.moves)

	rr = postConsole(t, l, sender, mover, url.Values{"axis": {"3"}, "target": {"123456"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	l.handleMountCommand(rr, httptest.NewRequest(http.MethodGet, "/debug/mount-command-api", nil), sender, mover)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleMountCommand_RefusedWhileScanning(t *testing.T) {
	l := NewLive(0)
	require.NoError(t, l.Begin(session))
	sender := &fakeSender{}
	mover := &fakeMover{}

	assert.Equal(t, http.StatusConflict, postConsole(t, l, sender, mover, url.Values{"command": {"j1"}}).Code)
	assert.Equal(t, http.StatusConflict, postConsole(t, l, sender, mover, url.Values{"axis": {"1"}, "target": {"100000"}}).Code)
	assert.Empty(t, sender.sent)
	assert.Empty(t, mover.moves)

	require.NoError(t, l.Finish(scan.Result{Outcome: scan.Found, Session: session}))
	assert.Equal(t, http.StatusOK, postConsole(t, l, sender, mover, url.Values{"command": {"j1"}}).Code)
}

func TestHandleMountCommand_KeepsAxisWithinLimits(t *testing.T) {
	m := sim.NewMount(0x100000, 0x100000, 1)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sender := NewSharedSender(mount.NewChannel(serialport.NewLink(m.Port()), mount.DefaultChannelConfig(), clock))
	cfg := mount.DefaultControllerConfig()
	cfg.Axis1Limits = mount.Limits{Min: 0x0F0000, Max: 0x110000}
	ctrl := mount.NewController(sender, cfg, clock)
	l := NewLive(0)

	for _, command := range []string{"S1000020", "G101", "J1"} {
		rr := postConsole(t, l, sender, ctrl, url.Values{"command": {command}})
		assert.Equal(t, http.StatusForbidden, rr.Code, command)
	}
	rr := postConsole(t, l, sender, ctrl, url.Values{"axis": {"1"}, "target": {"200000"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var res CommandResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "rejected", res.Status)

	assert.Equal(t, mount.Position(0x100000), m.Position(mount.Axis1))
	assert.Empty(t, m.Commands(), "nothing reaches the mount")

	rr = postConsole(t, l, sender, ctrl, url.Values{"axis": {"1"}, "target": {"108000"}})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, ctrl.WaitStopped(context.Background(), mount.Axis1))
	assert.Equal(t, mount.Position(0x108000), m.Position(mount.Axis1))
}

func TestAttachAdminRoutes(t *testing.T) {
	mux := http.NewServeMux()
	l := NewLive(0)
	require.NoError(t, l.Begin(session))
	require.NoError(t, l.Record(scan.ScanPoint{Seed: true}))
	l.AttachAdminRoutes(mux, &fakeSender{}, &fakeMover{})

	for _, path := range []string{"/debug/scan-map", "/debug/scan-status", "/debug/scan-points", "/debug/mount-command"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		// Debug access control may answer 403 outside loopback.
		assert.NotEqual(t, http.StatusNotFound, rr.Code, path)
	}
}
