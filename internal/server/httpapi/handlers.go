package httpapi

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/dmitrijs2005/filegate/internal/logging"
	"github.com/dmitrijs2005/filegate/internal/server/ingest"
	"github.com/dmitrijs2005/filegate/internal/server/models"
	"github.com/dmitrijs2005/filegate/internal/server/paths"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultDownloadName = "unnamed.bin"

// FilesService is the storage backend the handlers delegate to. Errors are
// classified with the kinds in package common.
type FilesService interface {
	ListDir(ctx context.Context, storageID, dir string, user models.AuthUser) ([]models.FSElement, error)
	Download(ctx context.Context, filePath, storageID string, user models.AuthUser) ([]byte, error)
	Search(ctx context.Context, storageID, root, searchPath string, user models.AuthUser) ([]models.SearchFileElement, error)
	Delete(ctx context.Context, filePath, storageID string, user models.AuthUser) error
	CreateFolder(ctx context.Context, in models.InFolderSchema, user models.AuthUser) error
	UploadAnyway(ctx context.Context, in models.InFile, tempPath string, user models.AuthUser) error
	UploadTo(ctx context.Context, in models.InFileSchema, user models.AuthUser) error
}

// Staging is the scratch area uploads are streamed into.
type Staging interface {
	EnsureDir() error
	NewTempPath() string
	Cleanup(ctx context.Context, path string)
}

// FilesHandler serves the files API of one storage.
type FilesHandler struct {
	service  FilesService
	staging  Staging
	observer *Observer
	logger   logging.Logger
}

func NewFilesHandler(service FilesService, staging Staging, observer *Observer, logger logging.Logger) *FilesHandler {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &FilesHandler{
		service:  service,
		staging:  staging,
		observer: observer,
		logger:   logger.With("module", "files_handler"),
	}
}

// Register mounts the routes on rg, which is expected to carry the
// :storage_id parameter and the auth middleware.
func (h *FilesHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/create_folder", h.createFolder)
	rg.POST("/upload", h.upload)
	rg.POST("/upload_to", h.uploadTo)
	rg.GET("/*path", h.dispatch)
	rg.DELETE("/*path", h.delete)
}

func (h *FilesHandler) storageID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("storage_id"))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid storage id")
		return "", false
	}
	return id.String(), true
}

func (h *FilesHandler) createFolder(c *gin.Context) {
	storageID, ok := h.storageID(c)
	if !ok {
		return
	}
	user, _ := CurrentUser(c)

	var params models.UploadParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}

	in := models.NewInFolderSchema(storageID, params.Path, params.FolderName)
	if err := h.service.CreateFolder(c.Request.Context(), in, user); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

func (h *FilesHandler) upload(c *gin.Context) {
	h.handleUpload(c, "upload", func(ctx context.Context, storageID, tempPath string, user models.AuthUser) (int64, error) {
		mr, err := c.Request.MultipartReader()
		if err != nil {
			return 0, common.Errorf(common.ErrorBadRequest, "expected multipart/form-data body")
		}
		up, err := ingest.ParseUpload(ctx, mr, tempPath)
		if err != nil {
			return 0, err
		}
		in := models.NewInFile(up.Path, up.File.Size, storageID, up.File.Checksum)
		return up.File.Size, h.service.UploadAnyway(ctx, in, tempPath, user)
	})
}

func (h *FilesHandler) uploadTo(c *gin.Context) {
	h.handleUpload(c, "upload_to", func(ctx context.Context, storageID, tempPath string, user models.AuthUser) (int64, error) {
		mr, err := c.Request.MultipartReader()
		if err != nil {
			return 0, common.Errorf(common.ErrorBadRequest, "expected multipart/form-data body")
		}
		up, err := ingest.ParseUploadTo(ctx, mr, tempPath)
		if err != nil {
			return 0, err
		}
		in := models.NewInFileSchema(storageID, up.Path, up.File.Size, tempPath, up.File.Checksum)
		return up.File.Size, h.service.UploadTo(ctx, in, user)
	})
}

type uploadFunc func(ctx context.Context, storageID, tempPath string, user models.AuthUser) (int64, error)

// handleUpload owns the temp file until fn succeeds: any failure, in the
// ingestor or the service, removes it before the response is written.
func (h *FilesHandler) handleUpload(c *gin.Context, route string, fn uploadFunc) {
	storageID, ok := h.storageID(c)
	if !ok {
		return
	}
	user, _ := CurrentUser(c)
	ctx := c.Request.Context()

	if err := h.staging.EnsureDir(); err != nil {
		h.writeError(c, err)
		return
	}

	tempPath := h.staging.NewTempPath()
	start := time.Now()

	size, err := fn(ctx, storageID, tempPath, user)
	h.observer.RecordUpload(route, time.Since(start), size, err)
	if err != nil {
		h.staging.Cleanup(ctx, tempPath)
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

// dispatch routes GET /*path by its first segment.
func (h *FilesHandler) dispatch(c *gin.Context) {
	storageID, ok := h.storageID(c)
	if !ok {
		return
	}

	token, rest := SplitWildcard(c.Param("path"))
	route, ok := ParseRoute(token)
	if !ok {
		c.String(http.StatusNotFound, "Not found")
		return
	}

	switch route {
	case RouteTree:
		h.tree(c, storageID, rest)
	case RouteDownload:
		h.download(c, storageID, rest)
	case RouteSearch:
		h.search(c, storageID, rest)
	}
}

func (h *FilesHandler) tree(c *gin.Context, storageID, dir string) {
	user, _ := CurrentUser(c)

	items, err := h.service.ListDir(c.Request.Context(), storageID, dir, user)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *FilesHandler) download(c *gin.Context, storageID, filePath string) {
	user, _ := CurrentUser(c)

	data, err := h.service.Download(c.Request.Context(), filePath, storageID, user)
	if err != nil {
		h.writeError(c, err)
		return
	}

	leaf := paths.Base(filePath)
	if leaf == "" {
		leaf = defaultDownloadName
	}

	c.Header("Content-Disposition", `attachment; filename="`+quoteEscaper.Replace(leaf)+`"`)
	c.Data(http.StatusOK, contentType(leaf, data), data)
}

func (h *FilesHandler) search(c *gin.Context, storageID, root string) {
	searchPath := c.Query("search_path")
	if searchPath == "" {
		c.String(http.StatusUnprocessableEntity, "search_path query parameter is required")
		return
	}
	user, _ := CurrentUser(c)

	items, err := h.service.Search(c.Request.Context(), storageID, root, searchPath, user)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *FilesHandler) delete(c *gin.Context) {
	storageID, ok := h.storageID(c)
	if !ok {
		return
	}
	user, _ := CurrentUser(c)

	filePath := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.service.Delete(c.Request.Context(), filePath, storageID, user); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// contentType guesses from the leaf's extension first, then from the bytes.
func contentType(leaf string, data []byte) string {
	if ext := path.Ext(leaf); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if ct := mimetype.Detect(data).String(); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
