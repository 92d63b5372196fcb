package db

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/beamalign/internal/httputil"
	"github.com/banshee-data/beamalign/internal/monitoring"
)

// AttachAdminRoutes mounts the scan store debug pages: a tailsql console,
// a gzipped backup download and JSON session listings.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://scans.db", db.DB, &tailsql.DBOptions{
		Label: "Scan store",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the scan store now", http.HandlerFunc(db.serveBackup))
	debug.Handle("sessions", "Stored scan sessions (JSON)", http.HandlerFunc(db.serveSessions))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("beamalign-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("Failed to stream backup: %v", err)
	}
}

// serveSessions lists sessions, or the points of one session when an id
// query parameter is given.
func (db *DB) serveSessions(w http.ResponseWriter, r *http.Request) {
	var (
		v   any
		err error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		if _, err = db.Session(id); err == nil {
			v, err = db.Points(id)
		}
	} else {
		v, err = db.Sessions(0)
	}
	if errors.Is(err, ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, v)
}
