package rest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/transfer_scheduler/internal/logctx"
	"github.com/italolelis/transfer_scheduler/internal/telemetry"
	"github.com/italolelis/transfer_scheduler/internal/transfer"
)

const maxRequestBodySize = 1 << 20

// Transfers is the scheduler surface the API drives. *connection.Connection
// implements it.
type Transfers interface {
	Enqueue(req transfer.Request) transfer.ID
	Transfer(id transfer.ID) (transfer.Transfer, bool)
	TransferByFile(file transfer.File) (transfer.Transfer, bool)
	Status() transfer.Status
	Cancel(id transfer.ID) bool

	RegisterTransferListener(l transfer.TransferListener)
	RemoveTransferListener(l transfer.TransferListener)
	RegisterStatusListener(l transfer.StatusListener)
	RemoveStatusListener(l transfer.StatusListener)
}

// EnqueueRequest is the body of POST /transfers.
type EnqueueRequest struct {
	Direction     string `json:"direction"`
	AccountName   string `json:"account_name"`
	ServerURL     string `json:"server_url"`
	Path          string `json:"path"`
	LocalPath     string `json:"local_path"`
	Overwrite     bool   `json:"overwrite"`
	CreateParents bool   `json:"create_parents"`
	Test          bool   `json:"test"`
}

// ToRequest validates the body and builds the transfer request it describes.
func (e EnqueueRequest) ToRequest() (transfer.Request, error) {
	dir, err := transfer.ParseDirection(e.Direction)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(e.AccountName) == "" {
		return nil, &transfer.InvalidRequestError{Field: "account_name", Reason: "must not be empty"}
	}

	if strings.TrimSpace(e.Path) == "" {
		return nil, &transfer.InvalidRequestError{Field: "path", Reason: "must not be empty"}
	}

	user := transfer.User{AccountName: e.AccountName, ServerURL: e.ServerURL}
	file := transfer.File{Path: e.Path}

	if dir == transfer.DirectionDownload {
		return transfer.NewDownloadRequest(user, file, e.Test), nil
	}

	if e.LocalPath == "" && !e.Test {
		return nil, &transfer.InvalidRequestError{Field: "local_path", Reason: "is required for uploads"}
	}

	return transfer.NewUploadRequest(user, file, transfer.Upload{
		LocalPath:     e.LocalPath,
		Overwrite:     e.Overwrite,
		CreateParents: e.CreateParents,
	}, e.Test), nil
}

type TransferHandler struct {
	transfers Transfers
	events    *EventsHandler
	username  string
	password  string
	telemetry *telemetry.Telemetry
}

// NewTransferHandler creates the transfer API handler. When username is
// empty the API is served without authentication.
func NewTransferHandler(transfers Transfers, events *EventsHandler, username, password string, t *telemetry.Telemetry) *TransferHandler {
	return &TransferHandler{
		transfers: transfers,
		events:    events,
		username:  username,
		password:  password,
		telemetry: t,
	}
}

func (h *TransferHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Post("/transfers", h.HandleEnqueue)
		r.Get("/transfers", h.HandleList)
		r.Get("/transfers/{id}", h.HandleGet)
		r.Delete("/transfers/{id}", h.HandleCancel)
		r.Get("/status", h.HandleStatus)

		if h.events != nil {
			r.Get("/events", h.events.ServeHTTP)
		}
	})

	return r
}

func (h *TransferHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleEnqueue submits a new transfer and answers with its id.
func (h *TransferHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var body EnqueueRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&body); err != nil {
		logger.Debug("failed to decode request", "err", err)
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	req, err := body.ToRequest()
	if err != nil {
		var invalid *transfer.InvalidRequestError
		if errors.As(err, &invalid) {
			h.writeError(w, r, http.StatusBadRequest, err.Error())

			return
		}

		h.writeError(w, r, http.StatusInternalServerError, "failed to build request")

		return
	}

	id := h.transfers.Enqueue(req)

	logger.Info("transfer enqueued via api",
		"transfer_id", id.String(),
		"direction", req.Direction().String(),
		"file_path", req.Target().Path)

	w.Header().Set("Location", "/transfers/"+id.String())
	h.writeJSON(w, r, http.StatusAccepted, map[string]string{"id": id.String()})
}

// HandleList answers with the transfer matching ?path=, or with every known
// transfer when no path is given.
func (h *TransferHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if path := r.URL.Query().Get("path"); path != "" {
		t, ok := h.transfers.TransferByFile(transfer.File{Path: path})
		if !ok {
			h.writeError(w, r, http.StatusNotFound, fmt.Sprintf("no transfer for path %s", path))

			return
		}

		h.writeJSON(w, r, http.StatusOK, t)

		return
	}

	status := h.transfers.Status()

	all := make([]transfer.Transfer, 0, len(status.Pending)+len(status.Running)+len(status.Completed))
	all = append(all, status.Pending...)
	all = append(all, status.Running...)
	all = append(all, status.Completed...)

	h.writeJSON(w, r, http.StatusOK, all)
}

func (h *TransferHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}

	t, found := h.transfers.Transfer(id)
	if !found {
		h.writeError(w, r, http.StatusNotFound, "transfer not found")

		return
	}

	h.writeJSON(w, r, http.StatusOK, t)
}

// HandleCancel cancels a pending or running transfer.
func (h *TransferHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transferID(w, r)
	if !ok {
		return
	}

	if !h.transfers.Cancel(id) {
		h.writeError(w, r, http.StatusNotFound, "transfer not found or already finished")

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("transfer cancelled via api", "transfer_id", id.String())

	w.WriteHeader(http.StatusNoContent)
}

func (h *TransferHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.transfers.Status())
}

func (h *TransferHandler) transferID(w http.ResponseWriter, r *http.Request) (transfer.ID, bool) {
	id, err := transfer.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid transfer id")

		return transfer.ID{}, false
	}

	return id, true
}

func (h *TransferHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="transferd"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *TransferHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, map[string]string{"error": msg})
}

func (h *TransferHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
		h.telemetry.RecordSystemError(r.Context(), "rest", "encode_response")
	}
}
