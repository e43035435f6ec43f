package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/dmitrijs2005/filegate/internal/dbx"
	"github.com/dmitrijs2005/filegate/internal/logging"
	"github.com/dmitrijs2005/filegate/internal/server/blobstore"
	"github.com/dmitrijs2005/filegate/internal/server/models"
	"github.com/dmitrijs2005/filegate/internal/server/paths"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/files"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/repomanager"
)

// maxRenameAttempts bounds the "name (n).ext" probing of UploadAnyway.
const maxRenameAttempts = 100

// BlobStore keeps file contents addressed by storage key.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// TempCleaner disposes of staged uploads once they are committed.
type TempCleaner interface {
	Cleanup(ctx context.Context, path string)
}

// FilesService manages the files and folders of user-owned storages: rows in
// Postgres, contents in the blob store.
type FilesService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       BlobStore
	temp        TempCleaner
	logger      logging.Logger
	newKey      func(storageID string) string
	withTx      func(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error
}

func NewFilesService(db *sql.DB, m repomanager.RepositoryManager, blobs BlobStore, temp TempCleaner, logger logging.Logger) *FilesService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &FilesService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		temp:        temp,
		logger:      logger.With("module", "files"),
		newKey:      blobstore.NewKey,
		withTx: func(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
			return dbx.WithTx(ctx, db, nil, fn)
		},
	}
}

func (s *FilesService) checkAccess(ctx context.Context, storageID string, user models.AuthUser) error {
	st, err := s.repomanager.Storages(s.db).GetByID(ctx, storageID)
	if errors.Is(err, common.ErrorNotFound) || (err == nil && st.OwnerID != user.ID) {
		return common.Errorf(common.ErrorNotFound, "storage not found")
	}
	if err != nil {
		return fmt.Errorf("error checking storage access: %w", err)
	}
	return nil
}

// ListDir returns the immediate children of dir: folders first, then files,
// each group ordered by name.
func (s *FilesService) ListDir(ctx context.Context, storageID, dir string, user models.AuthUser) ([]models.FSElement, error) {
	if err := s.checkAccess(ctx, storageID, user); err != nil {
		return nil, err
	}

	dir, err := paths.Normalize(dir)
	if err != nil {
		return nil, err
	}
	prefix := paths.AsDir(dir)

	rows, err := s.repomanager.Files(s.db).ListByPrefix(ctx, storageID, prefix)
	if err != nil {
		return nil, fmt.Errorf("error listing files: %w", err)
	}

	seen := make(map[string]bool)
	var folders, regular []models.FSElement
	for _, f := range rows {
		rest := strings.TrimPrefix(f.Path, prefix)
		if rest == "" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			if seen[name] {
				continue
			}
			seen[name] = true
			folders = append(folders, models.FSElement{Path: prefix + name, Name: name, IsFile: false})
			continue
		}
		regular = append(regular, models.FSElement{Path: f.Path, Name: rest, Size: f.Size, IsFile: true})
	}

	byName := func(items []models.FSElement) {
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	}
	byName(folders)
	byName(regular)

	result := make([]models.FSElement, 0, len(folders)+len(regular))
	result = append(result, folders...)
	return append(result, regular...), nil
}

// Download returns the contents of an uploaded file.
func (s *FilesService) Download(ctx context.Context, filePath, storageID string, user models.AuthUser) ([]byte, error) {
	if err := s.checkAccess(ctx, storageID, user); err != nil {
		return nil, err
	}

	p, err := paths.Normalize(filePath)
	if err != nil {
		return nil, err
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return nil, common.Errorf(common.ErrorNotFound, "file not found")
	}

	f, err := s.repomanager.Files(s.db).GetByPath(ctx, storageID, p)
	if errors.Is(err, common.ErrorNotFound) || (err == nil && !f.IsUploaded) {
		return nil, common.Errorf(common.ErrorNotFound, "file not found")
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching file: %w", err)
	}

	data, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Search finds files and folders below root whose remaining path contains
// searchPath, ignoring case.
func (s *FilesService) Search(ctx context.Context, storageID, root, searchPath string, user models.AuthUser) ([]models.SearchFileElement, error) {
	if err := s.checkAccess(ctx, storageID, user); err != nil {
		return nil, err
	}

	root, err := paths.Normalize(root)
	if err != nil {
		return nil, err
	}

	rows, err := s.repomanager.Files(s.db).Search(ctx, storageID, paths.AsDir(root), searchPath)
	if err != nil {
		return nil, fmt.Errorf("error searching files: %w", err)
	}

	result := make([]models.SearchFileElement, 0, len(rows))
	for _, f := range rows {
		result = append(result, models.SearchFileElement{
			Path:   strings.TrimSuffix(f.Path, "/"),
			Size:   f.Size,
			IsFile: !f.IsFolder(),
		})
	}
	return result, nil
}

// Delete removes a file, or a folder with everything under it. A path
// ending in "/" always names a folder.
func (s *FilesService) Delete(ctx context.Context, filePath, storageID string, user models.AuthUser) error {
	if err := s.checkAccess(ctx, storageID, user); err != nil {
		return err
	}

	p, err := paths.Normalize(filePath)
	if err != nil {
		return err
	}
	if p == "" {
		return common.Errorf(common.ErrorBadRequest, "cannot delete storage root")
	}

	var keys []string
	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)

		var err error
		if !strings.HasSuffix(p, "/") {
			keys, err = repo.DeleteByPath(ctx, storageID, p)
			if err != nil {
				return fmt.Errorf("error deleting file: %w", err)
			}
		}
		if len(keys) == 0 {
			keys, err = repo.DeleteByPrefix(ctx, storageID, paths.AsDir(p))
			if err != nil {
				return fmt.Errorf("error deleting folder: %w", err)
			}
		}
		if len(keys) == 0 {
			return common.Errorf(common.ErrorNotFound, "file not found")
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		// Rows are gone already; an orphaned blob is only wasted space.
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn(ctx, "blob delete failed", "storage_key", key, "error", err)
		}
	}

	s.logger.Info(ctx, "deleted", "storage_id", storageID, "path", p, "rows", len(keys))
	return nil
}

// CreateFolder adds an empty folder under in.ParentPath.
func (s *FilesService) CreateFolder(ctx context.Context, in models.InFolderSchema, user models.AuthUser) error {
	if err := s.checkAccess(ctx, in.StorageID, user); err != nil {
		return err
	}

	name := in.FolderName
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return common.Errorf(common.ErrorBadRequest, "invalid folder name")
	}

	parent, err := paths.Normalize(in.ParentPath)
	if err != nil {
		return err
	}
	folder, err := paths.Construct(parent, name)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)

		if err := checkParents(ctx, repo, in.StorageID, folder); err != nil {
			return err
		}
		_, err := repo.GetByPath(ctx, in.StorageID, folder)
		if err == nil {
			return common.Errorf(common.ErrorConflict, "a file with this name already exists")
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("error checking path: %w", err)
		}

		err = repo.Create(ctx, &models.File{
			StorageID:  in.StorageID,
			Path:       paths.AsDir(folder),
			IsUploaded: true,
		})
		if errors.Is(err, common.ErrorConflict) {
			return common.Errorf(common.ErrorConflict, "folder already exists")
		}
		if err != nil {
			return fmt.Errorf("error creating folder: %w", err)
		}
		return nil
	})
}

// UploadAnyway stores the staged file at in.Path. When the path is taken
// the leaf is renamed to "name (n).ext" with the lowest free n.
func (s *FilesService) UploadAnyway(ctx context.Context, in models.InFile, tempPath string, user models.AuthUser) error {
	return s.upload(ctx, in.StorageID, in.Path, in.Size, in.Checksum, tempPath, true, user)
}

// UploadTo stores the staged file at exactly in.Path; a taken path is a
// conflict.
func (s *FilesService) UploadTo(ctx context.Context, in models.InFileSchema, user models.AuthUser) error {
	return s.upload(ctx, in.StorageID, in.Path, in.Size, in.Checksum, in.TempPath, false, user)
}

func (s *FilesService) upload(ctx context.Context, storageID, filePath string, size int64, checksum, tempPath string, rename bool, user models.AuthUser) error {
	if err := s.checkAccess(ctx, storageID, user); err != nil {
		return err
	}

	p, err := paths.Normalize(filePath)
	if err != nil {
		return err
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return common.Errorf(common.ErrorBadRequest, "invalid path")
	}

	repo := s.repomanager.Files(s.db)
	file := &models.File{
		StorageID:  storageID,
		Path:       p,
		Size:       size,
		Checksum:   checksum,
		StorageKey: s.newKey(storageID),
	}
	if err := s.reserve(ctx, file, rename); err != nil {
		return err
	}

	if err := s.commit(ctx, repo, file, tempPath); err != nil {
		if derr := repo.DeleteByID(ctx, file.ID); derr != nil {
			s.logger.Error(ctx, "reserved row not released", "id", file.ID, "error", derr)
		}
		return err
	}

	s.temp.Cleanup(ctx, tempPath)
	s.logger.Info(ctx, "file uploaded", "storage_id", storageID, "path", file.Path, "size", size)
	return nil
}

// reserve inserts the not-yet-uploaded row, probing numbered names on
// conflict when rename is set. A name held by a file or a folder is taken.
// Names are checked before inserting: a failed INSERT aborts the transaction.
func (s *FilesService) reserve(ctx context.Context, file *models.File, rename bool) error {
	return s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)

		if err := checkParents(ctx, repo, file.StorageID, file.Path); err != nil {
			return err
		}

		base := file.Path
		for n := 0; n <= maxRenameAttempts; n++ {
			if n > 0 {
				file.Path = numbered(base, n)
			}
			taken, err := pathTaken(ctx, repo, file.StorageID, file.Path)
			if err != nil {
				return fmt.Errorf("error reserving path: %w", err)
			}
			if taken {
				if !rename {
					return common.Errorf(common.ErrorConflict, "file already exists")
				}
				continue
			}

			err = repo.Create(ctx, file)
			if errors.Is(err, common.ErrorConflict) {
				return common.Errorf(common.ErrorConflict, "file already exists")
			}
			if err != nil {
				return fmt.Errorf("error reserving path: %w", err)
			}
			return nil
		}
		return common.Errorf(common.ErrorConflict, "no free name for %s", base)
	})
}

// pathTaken reports whether p is held by a file row or used as a folder.
func pathTaken(ctx context.Context, repo files.Repository, storageID, p string) (bool, error) {
	_, err := repo.GetByPath(ctx, storageID, p)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return false, err
	}
	return repo.HasPrefix(ctx, storageID, paths.AsDir(p))
}

// checkParents rejects p when one of its ancestors is a file.
func checkParents(ctx context.Context, repo files.Repository, storageID, p string) error {
	for dir := path.Dir(strings.TrimSuffix(p, "/")); dir != "." && dir != "/"; dir = path.Dir(dir) {
		_, err := repo.GetByPath(ctx, storageID, dir)
		if err == nil {
			return common.Errorf(common.ErrorConflict, "%s is a file", dir)
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("error checking path: %w", err)
		}
	}
	return nil
}

func (s *FilesService) commit(ctx context.Context, repo files.Repository, file *models.File, tempPath string) error {
	f, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	if err := s.blobs.Put(ctx, file.StorageKey, f, file.Size); err != nil {
		return err
	}
	if err := repo.MarkUploaded(ctx, file.ID); err != nil {
		if derr := s.blobs.Delete(ctx, file.StorageKey); derr != nil {
			s.logger.Warn(ctx, "blob delete failed", "storage_key", file.StorageKey, "error", derr)
		}
		return fmt.Errorf("error marking uploaded: %w", err)
	}
	return nil
}

// numbered turns "dir/name.ext" into "dir/name (n).ext".
func numbered(p string, n int) string {
	dir, leaf := path.Split(p)
	ext := path.Ext(leaf)
	if ext == leaf {
		ext = ""
	}
	return dir + fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(leaf, ext), n, ext)
}
