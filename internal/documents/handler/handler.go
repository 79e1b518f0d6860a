package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycops/internal/documents"
	dErrors "kycops/pkg/domain-errors"
	"kycops/pkg/platform/httputil"
	"kycops/pkg/requestcontext"
)

// multipart overhead allowed on top of the file itself
const formOverhead = 1 << 20

// UploadResponse is returned for a stored document.
type UploadResponse struct {
	Success bool `json:"success"`
	documents.Stored
}

// Handler accepts multipart document uploads.
type Handler struct {
	store  documents.Store
	logger *slog.Logger
}

func New(store documents.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/upload", h.HandleUpload)
}

// HandleUpload stores the "file" form part. The optional "fileType" field
// prefixes the stored name.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, documents.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(documents.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "file exceeds 10 MB"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "No file uploaded"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "No file uploaded"))
		return
	}
	defer file.Close()

	// Trust the content, not the client-declared type.
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable upload"))
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if err := documents.ValidateUpload(contentType, header.Size); err != nil {
		h.logger.InfoContext(ctx, "upload rejected",
			"request_id", requestID,
			"content_type", contentType,
			"declared_type", header.Header.Get("Content-Type"),
			"size", header.Size,
		)
		httputil.WriteError(w, err)
		return
	}

	fileType := r.FormValue("fileType")
	name := documents.ObjectName(fileType, header.Filename, contentType, requestcontext.Now(ctx))
	stored, err := h.store.Save(ctx, name, contentType, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		h.logger.ErrorContext(ctx, "Upload failed",
			"request_id", requestID,
			"file_name", name,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "upload failed"))
		return
	}

	h.logger.InfoContext(ctx, "File uploaded successfully",
		"request_id", requestID,
		"file_name", stored.Name,
		"file_type", fileType,
	)
	httputil.WriteJSON(w, http.StatusOK, UploadResponse{Success: true, Stored: stored})
}
