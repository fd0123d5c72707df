package routes

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/queuecx/dashboard/internal/backend"
	appmw "github.com/queuecx/dashboard/internal/http/middleware"
	"github.com/queuecx/dashboard/internal/remote"
)

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, _ := appmw.UserFromContext(r.Context())
	s.writeJSON(w, r, http.StatusOK, u)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd remote.ProfileUpdate
	if err := decode(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	uid := currentUser(r)
	p, err := s.Backend.UpdateProfile(r.Context(), uid, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Auth != nil {
		s.Auth.NotifyUserUpdated(uid)
	}
	s.writeJSON(w, r, http.StatusOK, p)
}

// readUpload pulls one multipart file into memory, bounded by the upload
// limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) (backend.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return backend.File{}, &backend.ValidationError{Field: "file", Message: "file too large"}
		}
		return backend.File{}, &backend.ValidationError{Field: "file", Message: "invalid multipart form"}
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return backend.File{}, &backend.ValidationError{Field: "file", Message: "file is required"}
	}
	defer f.Close() //nolint:errcheck
	data, err := io.ReadAll(f)
	if err != nil {
		return backend.File{}, err
	}
	ct := hdr.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return backend.File{Name: hdr.Filename, ContentType: ct, Data: data}, nil
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	file, err := s.readUpload(w, r, "file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	uid := currentUser(r)
	p, err := s.Backend.UploadAvatar(r.Context(), uid, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Auth != nil {
		s.Auth.NotifyUserUpdated(uid)
	}
	s.writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.Backend.ListFiles(r.Context(), currentUser(r), r.URL.Query().Get("app"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, files)
}

// handleBatchFiles accepts ?apps=a,b as well as repeated ?app= parameters.
func (s *Server) handleBatchFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var apps []string
	for _, a := range strings.Split(q.Get("apps"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			apps = append(apps, a)
		}
	}
	apps = append(apps, q["app"]...)

	files, err := s.Backend.BatchGetFiles(r.Context(), currentUser(r), apps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, files)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.readUpload(w, r, "file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log := hlog.FromRequest(r)
	rec, err := s.Backend.UploadFile(r.Context(), currentUser(r), r.FormValue("app"), file, func(pct float64) {
		log.Debug().Float64("percent", pct).Str("file", file.Name).Msg("upload progress")
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, rec)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	err := s.Backend.DeleteFile(r.Context(), currentUser(r), chi.URLParam(r, "fileID"))
	if errors.Is(err, remote.ErrNotFound) {
		s.writeJSON(w, r, http.StatusNotFound, errorBody{Error: "file not found"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := backend.DefaultSearchLimit
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			s.writeError(w, r, &backend.ValidationError{Field: "limit", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	rows, err := s.Backend.SearchActivity(r.Context(), currentUser(r), q.Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, rows)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	uc, err := s.Backend.GetUserContext(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, uc)
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SystemPrompt string `json:"system_prompt"`
		Notes        string `json:"notes"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	uc, err := s.Backend.UpdateUserContext(r.Context(), currentUser(r), body.SystemPrompt, body.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, uc)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceInfo map[string]any `json:"device_info"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	sess, err := s.Backend.CreateSession(r.Context(), currentUser(r), body.DeviceInfo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, sess)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.Backend.ListConnectedAccounts(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, accounts)
}

// handleAvatar serves objects of the public avatars bucket.
func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	if s.Files == nil {
		http.NotFound(w, r)
		return
	}
	p := chi.URLParam(r, "*")
	rc, err := s.Files.Open(backend.AvatarsBucket, p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer rc.Close() //nolint:errcheck
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("path", p).Msg("serve avatar")
	}
}
