package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/deviation.report/internal/monitoring"
)

// AttachAdminRoutes mounts the tsweb debugger on mux, with an on-demand
// gzipped backup endpoint and, when enableTailsql is set, a live tailsql
// browser over the evaluator database. These endpoints carry no auth and are
// meant for the debug mux only.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux, enableTailsql bool) error {
	debug := tsweb.Debugger(mux)

	if enableTailsql {
		tsql, err := tailsql.NewServer(tailsql.Options{
			RoutePrefix: "/debug/tailsql/",
		})
		if err != nil {
			return fmt.Errorf("create tailsql server: %w", err)
		}
		tsql.SetDB("sqlite://deviation.db", db.DB, &tailsql.DBOptions{
			Label: "Deviation DB",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a gzipped backup of the database", http.HandlerFunc(db.handleBackup))
	return nil
}

// handleBackup creates a point-in-time copy with VACUUM INTO and streams it
// back gzipped. The temporary backup file is removed after the response.
func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
	w.Header().Set("Content-Type", "application/octet-stream")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("failed to stream backup: %v", err)
	}
}
