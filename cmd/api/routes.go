package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/allensuvorov/logamizer/internal/blobstore"
	"github.com/allensuvorov/logamizer/internal/httputil"
	"github.com/allensuvorov/logamizer/internal/model"
	"github.com/allensuvorov/logamizer/internal/pipeline"
	"github.com/allensuvorov/logamizer/internal/store"
)

// apiHandlers wires spec.md §6's inbound interface (run_ingest, reanalyze,
// analyze_errors) onto HTTP, plus a convenience upload endpoint kept from
// the original teacher handler for local testing.
type apiHandlers struct {
	store store.Store
	blobs *blobstore.Local
	queue *pipeline.Queue
	log   *logrus.Logger
}

func (a *apiHandlers) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sites", a.putSite)
	mux.HandleFunc("POST /api/upload", a.upload)
	mux.HandleFunc("POST /api/log-files/{id}/ingest", a.runIngest)
	mux.HandleFunc("POST /api/log-files/{id}/analyze-errors", a.analyzeErrors)
	mux.HandleFunc("POST /api/sites/{id}/reanalyze", a.reanalyze)
	mux.HandleFunc("GET /api/sites/{id}/findings", a.listFindings)
	mux.HandleFunc("GET /api/sites/{id}/error-groups", a.listErrorGroups)
}

func (a *apiHandlers) putSite(w http.ResponseWriter, r *http.Request) {
	var site model.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		http.Error(w, "invalid site payload", http.StatusBadRequest)
		return
	}
	if site.ID == "" {
		site.ID = httputil.NewID()
	}
	if site.Format == "" {
		site.Format = model.FormatAuto
	}
	if site.Anomaly == (model.AnomalyParams{}) {
		site.Anomaly = model.DefaultAnomalyParams()
	}
	if err := a.store.PutSite(r.Context(), site); err != nil {
		http.Error(w, "could not save site", http.StatusInternalServerError)
		return
	}
	httputil.JSON(w, http.StatusOK, site)
}

// upload is the local-testing convenience endpoint from the original
// teacher handler: accept a multipart file, save it to the blob store,
// register a LogFile, and enqueue it for ingestion in one call.
func (a *apiHandlers) upload(w http.ResponseWriter, r *http.Request) {
	siteID := r.FormValue("site_id")
	kind := model.LogFileKind(r.FormValue("kind"))
	if kind == "" {
		kind = model.KindAccess
	}
	if siteID == "" {
		http.Error(w, "site_id is required", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	hasher := sha256.New()
	storageKey := siteID + "/" + httputil.NewID() + "-" + header.Filename
	n, err := a.blobs.Save(storageKey, io.TeeReader(file, hasher))
	if err != nil {
		http.Error(w, "failed to save upload", http.StatusInternalServerError)
		return
	}

	lf := model.LogFile{
		ID:         httputil.NewID(),
		SiteID:     siteID,
		Filename:   header.Filename,
		SizeBytes:  n,
		SHA256:     hex.EncodeToString(hasher.Sum(nil)),
		StorageKey: storageKey,
		Kind:       kind,
		Status:     model.StatusPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := a.store.PutLogFile(r.Context(), lf); err != nil {
		http.Error(w, "could not register log file", http.StatusInternalServerError)
		return
	}

	jobID, err := a.queue.Enqueue(lf.ID)
	if err != nil {
		http.Error(w, "could not enqueue ingest job", http.StatusInternalServerError)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "log_file_id": lf.ID})
}

// runIngest implements spec.md §6's run_ingest(log_file_id).
func (a *apiHandlers) runIngest(w http.ResponseWriter, r *http.Request) {
	logFileID := r.PathValue("id")
	jobID, err := a.queue.Enqueue(logFileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// analyzeErrors implements spec.md §6's analyze_errors(log_file_id): runs
// only the error-grouper path by forcing the log file's Kind to "error"
// before enqueuing, matching what the driver dispatches on.
func (a *apiHandlers) analyzeErrors(w http.ResponseWriter, r *http.Request) {
	logFileID := r.PathValue("id")
	lf, ok, err := a.store.GetLogFile(r.Context(), logFileID)
	if err != nil || !ok {
		http.Error(w, "log file not found", http.StatusNotFound)
		return
	}
	lf.Kind = model.KindError
	if err := a.store.PutLogFile(r.Context(), lf); err != nil {
		http.Error(w, "could not update log file", http.StatusInternalServerError)
		return
	}
	jobID, err := a.queue.Enqueue(logFileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// reanalyze is a stub for reanalyze(site_id, hour_range?): it replays and
// re-enqueues nothing and always answers 501 Not Implemented. The
// recompute path is the reanalyze subcommand of cmd/logamizer-cli, which
// is handed the site's log files on its command line.
func (a *apiHandlers) reanalyze(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "reanalyze is exposed via the logamizer-cli reanalyze subcommand", http.StatusNotImplemented)
}

func (a *apiHandlers) listFindings(w http.ResponseWriter, r *http.Request) {
	findings, err := a.store.ListFindings(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "could not list findings", http.StatusInternalServerError)
		return
	}
	httputil.JSON(w, http.StatusOK, findings)
}

func (a *apiHandlers) listErrorGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.store.ListErrorGroups(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "could not list error groups", http.StatusInternalServerError)
		return
	}
	httputil.JSON(w, http.StatusOK, groups)
}
