package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/dmitrijs2005/filegate/internal/dbx"
	"github.com/dmitrijs2005/filegate/internal/server/models"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/files"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/filegate/internal/server/repositories/storages"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type fakeStoragesRepo struct {
	storages.Repository
	items map[string]*models.Storage
	err   error
}

func (f *fakeStoragesRepo) GetByID(ctx context.Context, id string) (*models.Storage, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.items[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return s, nil
}

type fakeFilesRepo struct {
	files.Repository
	rows      map[string]*models.File
	nextID    int
	createErr error
	markErr   error
	deleted   []string
}

func newFakeFilesRepo() *fakeFilesRepo {
	return &fakeFilesRepo{rows: map[string]*models.File{}}
}

func (f *fakeFilesRepo) Create(ctx context.Context, file *models.File) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.rows[file.Path]; ok {
		return common.ErrorConflict
	}
	f.nextID++
	file.ID = "id" + strings.Repeat("x", f.nextID)
	cp := *file
	f.rows[file.Path] = &cp
	return nil
}

func (f *fakeFilesRepo) byID(id string) *models.File {
	for _, r := range f.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (f *fakeFilesRepo) MarkUploaded(ctx context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	r := f.byID(id)
	if r == nil {
		return common.ErrorNotFound
	}
	r.IsUploaded = true
	return nil
}

func (f *fakeFilesRepo) DeleteByID(ctx context.Context, id string) error {
	if r := f.byID(id); r != nil {
		delete(f.rows, r.Path)
		f.deleted = append(f.deleted, r.Path)
	}
	return nil
}

func (f *fakeFilesRepo) GetByPath(ctx context.Context, storageID, p string) (*models.File, error) {
	r, ok := f.rows[p]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

func (f *fakeFilesRepo) sorted(match func(*models.File) bool) []*models.File {
	var out []*models.File
	for _, r := range f.rows {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (f *fakeFilesRepo) ListByPrefix(ctx context.Context, storageID, prefix string) ([]*models.File, error) {
	return f.sorted(func(r *models.File) bool {
		return r.IsUploaded && strings.HasPrefix(r.Path, prefix)
	}), nil
}

func (f *fakeFilesRepo) HasPrefix(ctx context.Context, storageID, prefix string) (bool, error) {
	for p := range f.rows {
		if strings.HasPrefix(p, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFilesRepo) Search(ctx context.Context, storageID, prefix, term string) ([]*models.File, error) {
	return f.sorted(func(r *models.File) bool {
		return r.IsUploaded && strings.HasPrefix(r.Path, prefix) &&
			strings.Contains(strings.ToLower(r.Path[len(prefix):]), strings.ToLower(term))
	}), nil
}

func (f *fakeFilesRepo) DeleteByPath(ctx context.Context, storageID, p string) ([]string, error) {
	r, ok := f.rows[p]
	if !ok {
		return nil, nil
	}
	delete(f.rows, p)
	return []string{r.StorageKey}, nil
}

func (f *fakeFilesRepo) DeleteByPrefix(ctx context.Context, storageID, prefix string) ([]string, error) {
	var keys []string
	for p, r := range f.rows {
		if strings.HasPrefix(p, prefix) {
			keys = append(keys, r.StorageKey)
			delete(f.rows, p)
		}
	}
	return keys, nil
}

type fakeRepoManager struct {
	storages *fakeStoragesRepo
	files    *fakeFilesRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error  { return nil }
func (m *fakeRepoManager) Storages(dbx.DBTX) storages.Repository         { return m.storages }
func (m *fakeRepoManager) Files(dbx.DBTX) files.Repository               { return m.files }

var _ repomanager.RepositoryManager = (*fakeRepoManager)(nil)

type fakeBlobs struct {
	objects map[string][]byte
	putErr  error
	delErr  error
}

func (b *fakeBlobs) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return data, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, key string) error {
	delete(b.objects, key)
	return b.delErr
}

type fakeCleaner struct{ removed []string }

func (c *fakeCleaner) Cleanup(ctx context.Context, p string) {
	c.removed = append(c.removed, p)
	_ = os.Remove(p)
}

// -------- helpers --------

const storageID = "11111111-1111-1111-1111-111111111111"

var owner = models.AuthUser{ID: "u1"}

type fixture struct {
	svc     *FilesService
	files   *fakeFilesRepo
	blobs   *fakeBlobs
	cleaner *fakeCleaner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := newFixtureWithDB(t, nil)
	fx.svc.withTx = func(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
		return fn(ctx, nil)
	}
	return fx
}

// newFixtureWithDB keeps the real transaction runner over db; the fake
// repositories ignore the transaction they are bound to.
func newFixtureWithDB(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	fx := &fixture{
		files:   newFakeFilesRepo(),
		blobs:   &fakeBlobs{objects: map[string][]byte{}},
		cleaner: &fakeCleaner{},
	}
	rm := &fakeRepoManager{
		storages: &fakeStoragesRepo{items: map[string]*models.Storage{
			storageID: {ID: storageID, OwnerID: owner.ID},
		}},
		files: fx.files,
	}
	fx.svc = NewFilesService(db, rm, fx.blobs, fx.cleaner, nil)
	n := 0
	fx.svc.newKey = func(string) string {
		n++
		return "key" + strings.Repeat("k", n)
	}
	return fx
}

func stage(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload_x.tmp")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (fx *fixture) upload(t *testing.T, p, content string) {
	t.Helper()
	tmp := stage(t, content)
	in := models.NewInFile(p, int64(len(content)), storageID, "sum")
	require.NoError(t, fx.svc.UploadAnyway(context.Background(), in, tmp, owner))
}

// -------- tests --------

func TestAccess_StorageNotOwned(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	stranger := models.AuthUser{ID: "u2"}

	_, err := fx.svc.ListDir(ctx, storageID, "", stranger)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, "storage not found", common.Message(err))

	_, err = fx.svc.ListDir(ctx, "22222222-2222-2222-2222-222222222222", "", owner)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAccess_RepoError(t *testing.T) {
	fx := newFixture(t)
	fx.svc.repomanager.(*fakeRepoManager).storages.err = errors.New("db down")

	_, err := fx.svc.ListDir(context.Background(), storageID, "", owner)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestUploadAnyway_StoresAndCleansUp(t *testing.T) {
	fx := newFixture(t)
	tmp := stage(t, "abc")

	err := fx.svc.UploadAnyway(context.Background(), models.NewInFile("/docs/hello.txt", 3, storageID, "sum"), tmp, owner)
	require.NoError(t, err)

	row := fx.files.rows["docs/hello.txt"]
	require.NotNil(t, row)
	assert.True(t, row.IsUploaded)
	assert.Equal(t, int64(3), row.Size)
	assert.Equal(t, "sum", row.Checksum)
	assert.Equal(t, []byte("abc"), fx.blobs.objects[row.StorageKey])
	assert.Equal(t, []string{tmp}, fx.cleaner.removed)
}

func TestUploadAnyway_RenamesOnConflict(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "docs/a.txt", "1")
	fx.upload(t, "docs/a.txt", "2")
	fx.upload(t, "docs/a.txt", "3")
	fx.upload(t, "docs/.env", "4")
	fx.upload(t, "docs/.env", "5")

	for _, p := range []string{"docs/a.txt", "docs/a (1).txt", "docs/a (2).txt", "docs/.env", "docs/.env (1)"} {
		assert.Contains(t, fx.files.rows, p)
	}
}

func TestUploadTo_Conflict(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "docs/a.txt", "1")

	tmp := stage(t, "2")
	err := fx.svc.UploadTo(context.Background(), models.NewInFileSchema(storageID, "docs/a.txt", 1, tmp, "sum"), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)
	assert.NotContains(t, fx.cleaner.removed, tmp, "handler owns the temp file on failure")
}

func TestUpload_BlobFailureReleasesRow(t *testing.T) {
	fx := newFixture(t)
	fx.blobs.putErr = errors.New("s3 down")

	err := fx.svc.UploadTo(context.Background(), models.NewInFileSchema(storageID, "a.txt", 1, stage(t, "x"), ""), owner)
	require.Error(t, err)
	assert.Empty(t, fx.files.rows)
	assert.Equal(t, []string{"a.txt"}, fx.files.deleted)
}

func TestUpload_MarkFailureDropsBlob(t *testing.T) {
	fx := newFixture(t)
	fx.files.markErr = errors.New("db down")

	err := fx.svc.UploadTo(context.Background(), models.NewInFileSchema(storageID, "a.txt", 1, stage(t, "x"), ""), owner)
	require.Error(t, err)
	assert.Empty(t, fx.blobs.objects)
	assert.Empty(t, fx.files.rows)
}

func TestUpload_InvalidPaths(t *testing.T) {
	fx := newFixture(t)
	for _, p := range []string{"", "/", "dir/", "../x", "a/../../x"} {
		err := fx.svc.UploadTo(context.Background(), models.NewInFileSchema(storageID, p, 1, stage(t, "x"), ""), owner)
		assert.ErrorIs(t, err, common.ErrorBadRequest, p)
	}
	assert.Empty(t, fx.files.rows)
}

func TestListDir(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "a/b/z.txt", "zz")
	fx.upload(t, "a/b/c/deep.txt", "d")
	fx.upload(t, "a/b/c/other.txt", "o")
	fx.upload(t, "a/b/a.txt", "a")
	fx.upload(t, "top.txt", "t")
	require.NoError(t, fx.svc.CreateFolder(context.Background(), models.NewInFolderSchema(storageID, "a/b", "empty"), owner))

	got, err := fx.svc.ListDir(context.Background(), storageID, "a/b", owner)
	require.NoError(t, err)

	want := []models.FSElement{
		{Path: "a/b/c", Name: "c", IsFile: false},
		{Path: "a/b/empty", Name: "empty", IsFile: false},
		{Path: "a/b/a.txt", Name: "a.txt", Size: 1, IsFile: true},
		{Path: "a/b/z.txt", Name: "z.txt", Size: 2, IsFile: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListDir mismatch (-want +got):\n%s", diff)
	}

	root, err := fx.svc.ListDir(context.Background(), storageID, "/", owner)
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, "a", root[0].Name)
	assert.Equal(t, "top.txt", root[1].Name)

	empty, err := fx.svc.ListDir(context.Background(), storageID, "nope", owner)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestListDir_HidesPendingUploads(t *testing.T) {
	fx := newFixture(t)
	fx.files.rows["pending.txt"] = &models.File{ID: "p", Path: "pending.txt"}

	got, err := fx.svc.ListDir(context.Background(), storageID, "", owner)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = fx.svc.Download(context.Background(), "pending.txt", storageID, owner)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDownload(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "docs/a.txt", "hello")

	data, err := fx.svc.Download(context.Background(), "/docs/a.txt", storageID, owner)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	for _, p := range []string{"docs/missing.txt", "docs/", ""} {
		_, err = fx.svc.Download(context.Background(), p, storageID, owner)
		assert.ErrorIs(t, err, common.ErrorNotFound, p)
	}
}

func TestSearch(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "photos/Cat.png", "1")
	fx.upload(t, "photos/dog.png", "2")
	fx.upload(t, "cats/readme.md", "3")

	got, err := fx.svc.Search(context.Background(), storageID, "photos", "cat", owner)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchFileElement{{Path: "photos/Cat.png", Size: 1, IsFile: true}}, got)

	// The root itself is not part of the searched text.
	got, err = fx.svc.Search(context.Background(), storageID, "cats", "cat", owner)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = fx.svc.Search(context.Background(), storageID, "", "CAT", owner)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDelete(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "a/one.txt", "1")
	fx.upload(t, "a/sub/two.txt", "2")
	fx.upload(t, "b.txt", "3")
	ctx := context.Background()

	require.NoError(t, fx.svc.Delete(ctx, "/b.txt", storageID, owner))
	assert.NotContains(t, fx.files.rows, "b.txt")

	require.NoError(t, fx.svc.Delete(ctx, "a", storageID, owner))
	assert.Empty(t, fx.files.rows)
	assert.Empty(t, fx.blobs.objects)

	err := fx.svc.Delete(ctx, "a", storageID, owner)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	err = fx.svc.Delete(ctx, "/", storageID, owner)
	assert.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestDelete_BlobFailureIsNotFatal(t *testing.T) {
	fx := newFixture(t)
	fx.upload(t, "x.txt", "1")
	fx.blobs.delErr = errors.New("s3 down")

	assert.NoError(t, fx.svc.Delete(context.Background(), "x.txt", storageID, owner))
	assert.Empty(t, fx.files.rows)
}

func TestCreateFolder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "/docs", "new"), owner))
	row := fx.files.rows["docs/new/"]
	require.NotNil(t, row)
	assert.True(t, row.IsFolder())
	assert.Zero(t, row.Size)

	err := fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "docs", "new"), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)

	for _, name := range []string{"", "a/b", "..", "."} {
		err := fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "", name), owner)
		assert.ErrorIs(t, err, common.ErrorBadRequest, name)
	}

	require.NoError(t, fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "", "rootdir"), owner))
	assert.Contains(t, fx.files.rows, "rootdir/")
}

func TestNumbered(t *testing.T) {
	assert.Equal(t, "docs/a (1).txt", numbered("docs/a.txt", 1))
	assert.Equal(t, "a (12)", numbered("a", 12))
	assert.Equal(t, "x/archive.tar (2).gz", numbered("x/archive.tar.gz", 2))
	assert.Equal(t, ".env (1)", numbered(".env", 1))
}

func TestNamespace_FileBlocksFolder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.upload(t, "docs", "abc")

	err := fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "", "docs"), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)

	err = fx.svc.UploadTo(ctx, models.NewInFileSchema(storageID, "docs/x.txt", 1, stage(t, "x"), ""), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)

	err = fx.svc.UploadAnyway(ctx, models.NewInFile("docs/sub/x.txt", 1, storageID, ""), stage(t, "x"), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)

	err = fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "docs", "sub"), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)

	got, err := fx.svc.ListDir(ctx, storageID, "", owner)
	require.NoError(t, err)
	assert.Equal(t, []models.FSElement{{Path: "docs", Name: "docs", Size: 3, IsFile: true}}, got)
}

func TestNamespace_FolderBlocksFile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "", "reports"), owner))
	fx.upload(t, "photos/cat.png", "1")

	for _, p := range []string{"reports", "photos"} {
		err := fx.svc.UploadTo(ctx, models.NewInFileSchema(storageID, p, 1, stage(t, "x"), ""), owner)
		assert.ErrorIs(t, err, common.ErrorConflict, p)
	}

	fx.upload(t, "reports", "x")
	fx.upload(t, "photos", "y")
	assert.Contains(t, fx.files.rows, "reports (1)")
	assert.Contains(t, fx.files.rows, "photos (1)")
	assert.NotContains(t, fx.files.rows, "reports")
	assert.NotContains(t, fx.files.rows, "photos")
}

func TestTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	fx := newFixtureWithDB(t, db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	fx.upload(t, "a/one.txt", "1")

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = fx.svc.CreateFolder(ctx, models.NewInFolderSchema(storageID, "a", "one.txt"), owner)
	assert.ErrorIs(t, err, common.ErrorConflict)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, fx.svc.Delete(ctx, "a", storageID, owner))
	assert.Empty(t, fx.files.rows)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = fx.svc.Delete(ctx, "a", storageID, owner)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectBegin().WillReturnError(errors.New("db down"))
	err = fx.svc.Delete(ctx, "b", storageID, owner)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
