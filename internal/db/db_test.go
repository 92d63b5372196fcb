package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beamalign/internal/scan"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var testSession = scan.Session{
	Range: 1000, FieldDegrees: 2, ResolutionSteps: 23, MaxLegSteps: 2594, TotalSteps: 6731430,
	StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

var testPoints = []scan.ScanPoint{
	{Axis1: 0x100, Axis2: 0x200, Signal: 40, Aux: 4, Seed: true},
	{Axis1: 0x117, Axis2: 0x200, Signal: 900, Aux: 5, DirX: 1, DirY: 1},
	{Axis1: 0x117, Axis2: 0x217, Signal: 120, Aux: 6, DirX: -1, DirY: 1},
}

func recordSession(t *testing.T, db *DB, s scan.Session) string {
	t.Helper()
	rec := db.NewSessionRecorder()
	rec.now = func() time.Time { return s.StartTime.Add(time.Minute) }
	require.NoError(t, rec.Begin(s))
	for _, p := range testPoints {
		require.NoError(t, rec.Record(p))
	}
	s.CompletedSteps = 2
	require.NoError(t, rec.Finish(scan.Result{Outcome: scan.Found, Session: s, Best: testPoints[1], Samples: 2}))
	return rec.ID()
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reapplying is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestSessionRecorder_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	id := recordSession(t, db, testSession)

	s, err := db.Session(id)
	require.NoError(t, err)
	assert.Equal(t, "1000-2.000", s.Key)
	assert.Equal(t, "found", s.Outcome)
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 2, s.CompletedSteps)
	assert.Equal(t, 6731430, s.TotalSteps)
	require.NotNil(t, s.Best)
	assert.Equal(t, 900, s.Best.Signal)
	assert.Equal(t, testSession.StartTime, s.StartedAt)
	require.NotNil(t, s.FinishedAt)
	assert.Equal(t, testSession.StartTime.Add(time.Minute), *s.FinishedAt)

	points, err := db.Points(id)
	require.NoError(t, err)
	assert.Equal(t, testPoints, points)

	rr := httptest.NewRecorder()
	db.serveSessions(rr, httptest.NewRequest(http.MethodGet, "/debug/sessions?id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessions_MostRecentFirst(t *testing.T) {
	db := openTestDB(t)
	first := recordSession(t, db, testSession)
	later := testSession
	later.StartTime = later.StartTime.Add(time.Hour)
	second := recordSession(t, db, later)

	sessions, err := db.Sessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID)
	assert.Equal(t, first, sessions[1].ID)
}

func TestSession_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRecorder_Unfinished(t *testing.T) {
	db := openTestDB(t)
	rec := db.NewSessionRecorder()
	require.NoError(t, rec.Begin(testSession))
	assert.Error(t, rec.Begin(testSession))
	require.NoError(t, rec.Record(testPoints[0]))

	s, err := db.Session(rec.ID())
	require.NoError(t, err)
	assert.Empty(t, s.Outcome)
	assert.Nil(t, s.Best)
	assert.Nil(t, s.FinishedAt)

	require.NoError(t, rec.Finish(scan.Result{Outcome: scan.Cancelled, Session: testSession}))
	assert.NoError(t, rec.Finish(scan.Result{}))
	assert.Error(t, rec.Record(testPoints[0]))
}

func TestAdminRoutes_Registered(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/sessions", "/debug/backup", "/debug/tailsql/"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		// Debug access control may answer 403 outside loopback.
		assert.NotEqual(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestServeSessions(t *testing.T) {
	db := openTestDB(t)
	id := recordSession(t, db, testSession)

	rr := httptest.NewRecorder()
	db.serveSessions(rr, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var sessions []ScanSession
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)

	rr = httptest.NewRecorder()
	db.serveSessions(rr, httptest.NewRequest(http.MethodGet, "/debug/sessions?id="+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var points []scan.ScanPoint
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &points))
	assert.Equal(t, testPoints, points)
}

func TestServeBackup(t *testing.T) {
	db := openTestDB(t)
	recordSession(t, db, testSession)

	rr := httptest.NewRecorder()
	db.serveBackup(rr, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")

	gz, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.Greater(t, len(data), 16)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
