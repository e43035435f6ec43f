// Package ingest streams multipart upload bodies to the staging area without
// buffering the file in memory.
package ingest

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"unicode/utf8"

	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/dmitrijs2005/filegate/internal/server/paths"
	"golang.org/x/crypto/blake2b"
)

const (
	FieldFile = "file"
	FieldPath = "path"

	// ChunkSize is the read and write unit for file parts.
	ChunkSize = 32 << 10

	// MaxPathSize caps the "path" field.
	MaxPathSize = 64 << 10

	defaultFilename = "unnamed"
)

// StagedUpload is a file part persisted to the staging area.
type StagedUpload struct {
	TempPath string
	Size     int64
	Checksum string
	Filename string
}

// Fields holds what Stream collected. File is nil when no "file" part was
// sent; Path is nil when no "path" part was sent.
type Fields struct {
	File *StagedUpload
	Path *string
}

// Upload is a parsed POST /upload body. Path is the joined destination.
type Upload struct {
	File StagedUpload
	Path string
}

// UploadTo is a parsed POST /upload_to body. Path is taken as sent.
type UploadTo struct {
	File StagedUpload
	Path string
}

// Stream reads every part of mr in arrival order. The "file" part is written
// to tempPath chunk by chunk; "path" is read into memory; anything else is
// drained. On error a partially written temp file is left in place for the
// caller to remove.
func Stream(ctx context.Context, mr *multipart.Reader, tempPath string) (*Fields, error) {
	fields := &Fields{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		part, err := mr.NextPart()
		// NextPart wraps a premature EOF, so only the bare sentinel marks the end.
		if err == io.EOF {
			return fields, nil
		}
		if err != nil {
			return nil, common.Errorf(common.ErrorBadRequest, "malformed multipart body: %v", err)
		}

		switch part.FormName() {
		case FieldFile:
			if fields.File != nil {
				part.Close()
				return nil, common.Errorf(common.ErrorBadRequest, "file field must be sent once")
			}
			staged, err := stageFile(ctx, part, tempPath)
			part.Close()
			if err != nil {
				return nil, err
			}
			fields.File = staged

		case FieldPath:
			p, err := readPath(part)
			part.Close()
			if err != nil {
				return nil, err
			}
			fields.Path = &p

		default:
			_, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return nil, common.Errorf(common.ErrorBadRequest, "malformed multipart body: %v", err)
			}
		}
	}
}

// ParseUpload streams the body and resolves the destination from the "path"
// directory and the file part's name. Zero-byte files are accepted.
func ParseUpload(ctx context.Context, mr *multipart.Reader, tempPath string) (*Upload, error) {
	fields, err := Stream(ctx, mr, tempPath)
	if err != nil {
		return nil, err
	}
	if fields.File == nil {
		return nil, common.Errorf(common.ErrorBadRequest, "file field is required")
	}
	if fields.Path == nil {
		return nil, common.Errorf(common.ErrorBadRequest, "path field is required")
	}

	dest, err := paths.Construct(*fields.Path, fields.File.Filename)
	if err != nil {
		return nil, err
	}

	return &Upload{File: *fields.File, Path: dest}, nil
}

// ParseUploadTo streams the body and takes the destination verbatim from the
// "path" field. An empty file is rejected before the path is looked at.
func ParseUploadTo(ctx context.Context, mr *multipart.Reader, tempPath string) (*UploadTo, error) {
	fields, err := Stream(ctx, mr, tempPath)
	if err != nil {
		return nil, err
	}
	if fields.File == nil || fields.File.Size == 0 {
		return nil, common.Errorf(common.ErrorBadRequest, "file field is required")
	}
	if fields.Path == nil {
		return nil, common.Errorf(common.ErrorBadRequest, "path field is required")
	}

	return &UploadTo{File: *fields.File, Path: *fields.Path}, nil
}

// stageFile copies part into a new file at tempPath. Read failures come from
// the client and are reported as bad requests; filesystem failures are
// internal. Both are told apart here, which io.Copy would not allow.
func stageFile(ctx context.Context, part *multipart.Part, tempPath string) (*StagedUpload, error) {
	filename := part.FileName()
	if filename == "" {
		filename = defaultFilename
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w: %w", common.ErrorInternal, err)
	}
	defer out.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init checksum: %w: %w", common.ErrorInternal, err)
	}

	w := bufio.NewWriterSize(out, ChunkSize)
	buf := make([]byte, ChunkSize)
	var size int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, rerr := part.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write temp file: %w: %w", common.ErrorInternal, err)
			}
			hash.Write(buf[:n])
			size += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, common.Errorf(common.ErrorBadRequest, "failed to read file chunk: %v", rerr)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush temp file: %w: %w", common.ErrorInternal, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w: %w", common.ErrorInternal, err)
	}

	return &StagedUpload{
		TempPath: tempPath,
		Size:     size,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
		Filename: filename,
	}, nil
}

func readPath(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, MaxPathSize+1))
	if err != nil {
		return "", common.Errorf(common.ErrorBadRequest, "failed to read path field: %v", err)
	}
	if len(b) > MaxPathSize {
		return "", common.Errorf(common.ErrorBadRequest, "path field is too large")
	}
	if !utf8.Valid(b) {
		return "", common.Errorf(common.ErrorBadRequest, "Path is not valid UTF-8")
	}
	return string(b), nil
}
