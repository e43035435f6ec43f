package models

// InFile describes an upload whose leaf name came from the multipart file
// field. The staged bytes travel separately as a temp path.
type InFile struct {
	Path      string
	Size      int64
	StorageID string
	Checksum  string
}

// NewInFile builds an InFile for the given destination.
func NewInFile(path string, size int64, storageID string, checksum string) InFile {
	return InFile{Path: path, Size: size, StorageID: storageID, Checksum: checksum}
}

// InFileSchema describes an upload to a fully specified destination path.
type InFileSchema struct {
	StorageID string
	Path      string
	Size      int64
	TempPath  string
	Checksum  string
}

// NewInFileSchema builds an InFileSchema for the staged file at tempPath.
func NewInFileSchema(storageID, path string, size int64, tempPath, checksum string) InFileSchema {
	return InFileSchema{StorageID: storageID, Path: path, Size: size, TempPath: tempPath, Checksum: checksum}
}

// UploadParams is the JSON body of a folder creation request.
type UploadParams struct {
	Path       string `json:"path"`
	FolderName string `json:"folder_name" binding:"required"`
}

// InFolderSchema describes a folder to create under ParentPath.
type InFolderSchema struct {
	StorageID  string
	ParentPath string
	FolderName string
}

// NewInFolderSchema builds an InFolderSchema.
func NewInFolderSchema(storageID, parentPath, folderName string) InFolderSchema {
	return InFolderSchema{StorageID: storageID, ParentPath: parentPath, FolderName: folderName}
}

// FSElement is one item of a directory listing.
type FSElement struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	IsFile bool   `json:"is_file"`
}

// SearchFileElement is one search hit.
type SearchFileElement struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	IsFile bool   `json:"is_file"`
}
