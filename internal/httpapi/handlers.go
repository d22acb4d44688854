package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/go-chi/chi/v5"

	"github.com/fho/imap-attachments/internal/attachment"
	"github.com/fho/imap-attachments/internal/imapclt"
)

type attachmentInfo struct {
	Index    int    `json:"index"`
	PartID   string `json:"part_id"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type"`
	// Size is the transfer encoded size, it is omitted when the server
	// did not report it.
	Size *int64 `json:"size,omitempty"`
}

type httpError struct {
	status int
	msg    string
	err    error
}

func (e *httpError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *httpError) Unwrap() error {
	return e.err
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	herr := &httpError{}
	if !errors.As(err, &herr) {
		herr = &httpError{status: http.StatusInternalServerError, msg: "internal error", err: err}
	}

	level := s.logger.Debug
	if herr.status >= http.StatusInternalServerError {
		level = s.logger.Warn
	}
	level("request failed",
		"event", "http.request_failed",
		"path", r.URL.Path,
		"status", herr.status,
		"error", err,
	)

	http.Error(w, herr.msg, herr.status)
}

// attachments returns the attachments of the message with uid in mailbox.
// s.mu must be held.
func (s *Server) attachments(mailbox, uidStr string) ([]*attachment.Attachment, error) {
	uid, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil || uid == 0 {
		return nil, &httpError{status: http.StatusBadRequest, msg: "invalid message uid", err: err}
	}

	if _, err := s.clt.Select(mailbox); err != nil {
		if isNoResponse(err) {
			return nil, &httpError{status: http.StatusNotFound, msg: "mailbox not found", err: err}
		}
		return nil, &httpError{status: http.StatusBadGateway, msg: "selecting mailbox failed", err: err}
	}

	msg, err := s.clt.Structure(uint32(uid))
	if err != nil {
		if errors.Is(err, imapclt.ErrMessageNotFound) {
			return nil, &httpError{status: http.StatusNotFound, msg: "message not found", err: err}
		}
		return nil, &httpError{status: http.StatusBadGateway, msg: "fetching message structure failed", err: err}
	}

	return attachment.FromMessage(s.clt, msg.UID, msg.Structure, s.attOpts...)
}

func isNoResponse(err error) bool {
	var imapErr *imap.Error

	if errors.As(err, &imapErr) {
		return imapErr.Type == imap.StatusResponseTypeNo
	}

	return false
}

// ListAttachments responds with a JSON list of the attachments of a message.
func (s *Server) ListAttachments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	atts, err := s.attachments(chi.URLParam(r, "mailbox"), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result := make([]*attachmentInfo, 0, len(atts))
	for i, a := range atts {
		info := attachmentInfo{
			Index:    i,
			PartID:   a.PartID(),
			MIMEType: a.MIMEType(),
		}
		info.Filename, _ = a.Filename()
		if size, ok := a.Size(); ok {
			info.Size = &size
		}

		result = append(result, &info)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warn("writing response failed", "error", err, "path", r.URL.Path)
	}
}

// DownloadAttachment responds with the decoded content of an attachment.
func (s *Server) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		s.writeError(w, r, &httpError{status: http.StatusBadRequest, msg: "invalid attachment index", err: err})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	atts, err := s.attachments(chi.URLParam(r, "mailbox"), chi.URLParam(r, "uid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if index >= len(atts) {
		s.writeError(w, r, &httpError{status: http.StatusNotFound, msg: "attachment not found"})
		return
	}

	a := atts[index]

	data, err := a.Data()
	if err != nil {
		s.writeError(w, r, &httpError{status: http.StatusBadGateway, msg: "fetching attachment failed", err: err})
		return
	}

	disposition := "attachment"
	if name, err := a.BaseFilename(); err == nil {
		disposition = mime.FormatMediaType(disposition, map[string]string{"filename": name})
	}

	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Type", a.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if _, err := w.Write(data); err != nil {
		s.logger.Warn("writing response failed", "error", err, "path", r.URL.Path)
	}
}
