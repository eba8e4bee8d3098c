package transfer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID identifies a transfer for its whole lifetime.
type ID = uuid.UUID

// NewID returns a fresh random transfer ID.
func NewID() ID {
	return uuid.New()
}

// ParseID parses the textual form of an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)

func (d Direction) String() string {
	switch d {
	case DirectionDownload:
		return "download"
	case DirectionUpload:
		return "upload"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection converts "download" or "upload" (case insensitive) into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "download":
		return DirectionDownload, nil
	case "upload":
		return DirectionUpload, nil
	}

	return 0, &InvalidRequestError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", s)}
}

type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// User is the principal owning a transfer.
type User struct {
	AccountName string `json:"account_name"`
	ServerURL   string `json:"server_url,omitempty"`
}

// File describes the file a transfer operates on. Path is the logical remote
// path and is what lookups by file match on.
type File struct {
	Path        string    `json:"path"`
	StoragePath string    `json:"storage_path,omitempty"`
	Size        int64     `json:"size,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	ModTime     time.Time `json:"mod_time,omitempty"`
}

// Upload carries the upload specific part of an UploadRequest.
type Upload struct {
	LocalPath     string `json:"local_path"`
	Overwrite     bool   `json:"overwrite"`
	CreateParents bool   `json:"create_parents"`
}

// Request is an immutable description of work. It is implemented only by
// *DownloadRequest and *UploadRequest.
type Request interface {
	TransferID() ID
	Owner() User
	Target() File
	Direction() Direction
	IsTest() bool

	request()
}

type DownloadRequest struct {
	ID   ID
	User User
	File File
	Test bool
}

// NewDownloadRequest builds a download request carrying a fresh ID.
func NewDownloadRequest(user User, file File, test bool) *DownloadRequest {
	return &DownloadRequest{ID: NewID(), User: user, File: file, Test: test}
}

func (r *DownloadRequest) TransferID() ID       { return r.ID }
func (r *DownloadRequest) Owner() User          { return r.User }
func (r *DownloadRequest) Target() File         { return r.File }
func (r *DownloadRequest) Direction() Direction { return DirectionDownload }
func (r *DownloadRequest) IsTest() bool         { return r.Test }
func (r *DownloadRequest) request()             {}

type UploadRequest struct {
	ID     ID
	User   User
	File   File
	Upload Upload
	Test   bool
}

// NewUploadRequest builds an upload request carrying a fresh ID.
func NewUploadRequest(user User, file File, upload Upload, test bool) *UploadRequest {
	return &UploadRequest{ID: NewID(), User: user, File: file, Upload: upload, Test: test}
}

func (r *UploadRequest) TransferID() ID       { return r.ID }
func (r *UploadRequest) Owner() User          { return r.User }
func (r *UploadRequest) Target() File         { return r.File }
func (r *UploadRequest) Direction() Direction { return DirectionUpload }
func (r *UploadRequest) IsTest() bool         { return r.Test }
func (r *UploadRequest) request()             {}

// EnsureID gives req a fresh ID when it has none and returns the ID req
// carries afterwards.
func EnsureID(req Request) ID {
	if id := req.TransferID(); id != uuid.Nil {
		return id
	}

	id := NewID()

	switch r := req.(type) {
	case *DownloadRequest:
		r.ID = id
	case *UploadRequest:
		r.ID = id
	}

	return id
}

// Transfer is an immutable snapshot of one transfer. A new value is produced
// on every state or progress change.
type Transfer struct {
	ID       ID
	State    State
	Progress int
	File     File
	Request  Request
}

func newTransfer(req Request) Transfer {
	return Transfer{
		ID:      req.TransferID(),
		State:   StatePending,
		File:    req.Target(),
		Request: req,
	}
}

// IsFinished reports whether the transfer reached a terminal state.
func (t Transfer) IsFinished() bool {
	return t.State.IsTerminal()
}

func (t Transfer) Direction() Direction {
	return t.Request.Direction()
}

func (t Transfer) withState(s State) Transfer {
	t.State = s

	return t
}

func (t Transfer) withProgress(p int) Transfer {
	t.Progress = p

	return t
}

func (t Transfer) withFile(f File) Transfer {
	t.File = f

	return t
}

func (t Transfer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		State     State     `json:"state"`
		Progress  int       `json:"progress"`
		Direction Direction `json:"direction"`
		Test      bool      `json:"test"`
		User      User      `json:"user"`
		File      File      `json:"file"`
	}{
		ID:        t.ID.String(),
		State:     t.State,
		Progress:  t.Progress,
		Direction: t.Direction(),
		Test:      t.Request.IsTest(),
		User:      t.Request.Owner(),
		File:      t.File,
	})
}

// Status is a point in time copy of all three queues.
type Status struct {
	Pending   []Transfer `json:"pending"`
	Running   []Transfer `json:"running"`
	Completed []Transfer `json:"completed"`
}
