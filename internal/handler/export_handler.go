package handler

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"netwatch/internal/logger"

	"github.com/gorilla/mux"
)

// Pauser stops and resumes scheduler dispatch around an import.
type Pauser interface {
	Pause()
	Resume()
}

// ConfigReloader re-reads the Config file from disk into the active
// Snapshot, used after an import replaces config.json on disk.
type ConfigReloader interface {
	Load() error
}

type ExportHandler struct {
	configPath  string
	historyPath string
	store       ConfigStore
	configFile  ConfigReloader
	reloader    Reloader
	pauser      Pauser
	log         *logger.Logger
}

func NewExportHandler(configPath, historyPath string, store ConfigStore, configFile ConfigReloader, reloader Reloader, pauser Pauser, log *logger.Logger) *ExportHandler {
	return &ExportHandler{configPath: configPath, historyPath: historyPath, store: store, configFile: configFile, reloader: reloader, pauser: pauser, log: log}
}

func (h *ExportHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/export", h.Export).Methods("GET")
	r.HandleFunc("/import", h.Import).Methods("POST")
}

// Export streams a ZIP of {database, config.json}, where the database
// entry is a copy of the history.db file.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=netwatch-export.zip")

	zw := zip.NewWriter(w)
	defer zw.Close()

	if err := addFileToZip(zw, h.historyPath, "database"); err != nil {
		h.log.Error("export: history.db: %v", err)
		return
	}
	if err := addFileToZip(zw, h.configPath, "config.json"); err != nil {
		h.log.Error("export: config.json: %v", err)
		return
	}
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

// Import replaces history.db and config.json from the database and
// config.json entries of an uploaded ZIP, backing up the prior pair first. The scheduler is paused for the
// duration of the swap and reloaded against the new config afterward:
// stop, backup, replace, reload, restart. An invalid archive returns
// 400 with current data untouched.
func (h *ExportHandler) Import(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("archive")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing archive field")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "netwatch-import-*.zip")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	zr, err := zip.OpenReader(tmp.Name())
	if err != nil {
		respondError(w, http.StatusBadRequest, "not a valid zip archive")
		return
	}
	defer zr.Close()

	var historyEntry, configEntry *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case "database":
			historyEntry = f
		case "config.json":
			configEntry = f
		}
	}
	if historyEntry == nil || configEntry == nil {
		respondError(w, http.StatusBadRequest, "archive missing database or config.json")
		return
	}

	h.pauser.Pause()
	defer h.pauser.Resume()

	backupDir := filepath.Join(filepath.Dir(h.configPath), fmt.Sprintf("backup-%d", time.Now().Unix()))
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create backup directory")
		return
	}
	if err := backupFile(h.historyPath, filepath.Join(backupDir, "history.db")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to back up history.db")
		return
	}
	if err := backupFile(h.configPath, filepath.Join(backupDir, "config.json")); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to back up config.json")
		return
	}

	if err := extractZipEntry(historyEntry, h.historyPath); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to write history.db")
		return
	}
	if err := extractZipEntry(configEntry, h.configPath); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to write config.json")
		return
	}

	if err := h.configFile.Load(); err != nil {
		h.log.Error("import: reload config from disk failed: %v", err)
		respondError(w, http.StatusInternalServerError, "config reload failed after import")
		return
	}
	h.reloader.Reload(h.store.Current())

	respondJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

func backupFile(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func extractZipEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
