package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/platform/storage"
)

const (
	maxImageSize     = 5 << 20
	maxImagesPerCall = 6
)

// ImageStore is the narrow slice of object storage the upload endpoints need.
type ImageStore interface {
	Upload(ctx context.Context, object, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, object string) error
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// UploadHandlers serves the admin product image upload endpoints.
type UploadHandlers struct {
	authn *auth.Authenticator
	store ImageStore
}

// NewUploadHandlers constructs a new UploadHandlers instance.
func NewUploadHandlers(authn *auth.Authenticator, store ImageStore) *UploadHandlers {
	return &UploadHandlers{
		authn: authn,
		store: store,
	}
}

// Routes registers the /upload endpoints. The caller mounts these behind
// RequireAuth(admin).
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/image", h.uploadImage)
	r.Post("/images", h.uploadImages)
	r.Delete("/image/*", h.deleteImage)
}

func (h *UploadHandlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request is not valid multipart form data", http.StatusBadRequest))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image file is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	uploaded, err := h.storeImage(ctx, file, header)
	if err != nil {
		writeUploadError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"image": uploaded})
}

func (h *UploadHandlers) uploadImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := r.ParseMultipartForm(maxImagesPerCall * maxImageSize); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request is not valid multipart form data", http.StatusBadRequest))
		return
	}
	if r.MultipartForm == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image files are required", http.StatusBadRequest))
		return
	}
	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image files are required", http.StatusBadRequest))
		return
	}
	if len(headers) > maxImagesPerCall {
		httpx.WriteError(ctx, w, httpx.NewError("too_many_images", "too many images in one request", http.StatusBadRequest))
		return
	}

	uploads := make([]uploadedImage, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			writeUploadError(ctx, w, errUploadUnreadable)
			return
		}
		uploaded, err := h.storeImage(ctx, file, header)
		file.Close()
		if err != nil {
			writeUploadError(ctx, w, err)
			return
		}
		uploads = append(uploads, uploaded)
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"images": uploads})
}

func (h *UploadHandlers) deleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}

	objectPath := strings.Trim(chi.URLParam(r, "*"), "/")
	if objectPath == "" || strings.Contains(objectPath, "..") || !strings.HasPrefix(objectPath, "products/") {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "object path is not a product image", http.StatusBadRequest))
		return
	}

	if err := h.store.Delete(ctx, objectPath); err != nil {
		writeServiceError(ctx, w, err, "upload_error")
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "image deleted")
}

type uploadedImage struct {
	ObjectPath  string `json:"object_path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

var (
	errUploadUnreadable  = errors.New("upload: file could not be read")
	errUploadTooLarge    = errors.New("upload: file exceeds size limit")
	errUploadUnsupported = errors.New("upload: unsupported image type")
)

// storeImage sniffs the real content type from the bytes rather than
// trusting the client-supplied header, then writes the object under a
// fresh ULID name.
func (h *UploadHandlers) storeImage(ctx context.Context, file multipart.File, header *multipart.FileHeader) (uploadedImage, error) {
	if header != nil && header.Size > maxImageSize {
		return uploadedImage{}, errUploadTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil {
		return uploadedImage{}, errUploadUnreadable
	}
	if len(data) == 0 {
		return uploadedImage{}, errUploadUnreadable
	}
	if len(data) > maxImageSize {
		return uploadedImage{}, errUploadTooLarge
	}

	contentType := http.DetectContentType(data)
	extension, ok := imageExtensions[contentType]
	if !ok {
		return uploadedImage{}, errUploadUnsupported
	}

	objectPath, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		FileName: ulid.Make().String() + extension,
	})
	if err != nil {
		return uploadedImage{}, err
	}

	url, err := h.store.Upload(ctx, objectPath, contentType, data)
	if err != nil {
		return uploadedImage{}, err
	}
	return uploadedImage{
		ObjectPath:  objectPath,
		URL:         url,
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

func writeUploadError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUploadUnreadable):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image file could not be read", http.StatusBadRequest))
	case errors.Is(err, errUploadTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("image_too_large", "image exceeds the size limit", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errUploadUnsupported):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_image_type", "only JPEG, PNG and WebP images are accepted", http.StatusBadRequest))
	default:
		writeServiceError(ctx, w, err, "upload_error")
	}
}
