package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/queuecx/dashboard/internal/cache"
	"github.com/queuecx/dashboard/internal/remote"
	"github.com/queuecx/dashboard/internal/retry"
)

const (
	FilesBucket   = "user-files"
	AvatarsBucket = "avatars"
)

// File is an upload held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validSegment(field, v string) error {
	if err := requireID(field, v); err != nil {
		return err
	}
	if v == "." || v == ".." || !segmentPattern.MatchString(v) {
		return invalid(field, "%s may only contain letters, digits, '.', '_' and '-'", field)
	}
	return nil
}

// UploadFile stores file under the user's app folder and records it in
// user_files. onProgress, when set, receives the completed percentage.
func (f *Facade) UploadFile(ctx context.Context, userID, appName string, file File, onProgress func(percent float64)) (*remote.UserFile, error) {
	if err := validSegment("user_id", userID); err != nil {
		return nil, err
	}
	if err := validSegment("app_name", appName); err != nil {
		return nil, err
	}
	if err := validateFile(file, f.cfg.MaxUploadSize, f.cfg.AllowedFileTypes); err != nil {
		return nil, err
	}

	path := f.objectPath(userID, appName, file.Name)
	sum := sha256.Sum256(file.Data)
	rec := remote.NewFile{
		UserID:   userID,
		AppName:  appName,
		FileName: file.Name,
		FileSize: int64(len(file.Data)),
		FileType: file.ContentType,
		FilePath: path,
		Metadata: map[string]any{
			"originalName": file.Name,
			"uploadedAt":   f.now().UTC().Format(time.RFC3339Nano),
			"checksum":     hex.EncodeToString(sum[:]),
		},
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		if onProgress != nil {
			onProgress(100)
		}
		return demoFile(rec, f.now()), nil
	case Configured:
		progress := func(loaded, total int64) {
			if onProgress != nil && total > 0 {
				onProgress(float64(loaded) / float64(total) * 100)
			}
		}
		stored, err := retry.Do(ctx, f.retry, "uploadFile.store", func(ctx context.Context) (string, error) {
			return c.Remote.Upload(ctx, FilesBucket, path, bytes.NewReader(file.Data), rec.FileSize, progress)
		})
		if err != nil {
			return nil, &UploadError{Path: path, Err: err}
		}
		rec.FilePath = stored

		row, err := retry.Do(ctx, f.retry, "uploadFile.record", func(ctx context.Context) (*remote.UserFile, error) {
			return c.Remote.InsertFile(ctx, rec)
		})
		if err != nil {
			f.removeOrphan(ctx, c.Remote, FilesBucket, stored)
			return nil, &RemoteError{Op: "uploadFile", Err: err}
		}

		f.invalidateFiles(userID)
		f.track(ctx, "file_uploaded", userID, map[string]any{
			"userId":   userID,
			"appName":  appName,
			"fileName": file.Name,
			"fileSize": rec.FileSize,
			"fileType": file.ContentType,
		})
		return row, nil
	}
	return nil, errUnknownConnection
}

// removeOrphan deletes a blob whose metadata row could not be written.
func (f *Facade) removeOrphan(ctx context.Context, blobs remote.Blobs, bucket, path string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := blobs.Remove(ctx, bucket, path); err != nil {
		f.log.Warn().Err(err).Str("bucket", bucket).Str("path", path).Msg("failed to remove orphaned upload")
	}
}

// objectPath is {user}/{app}/{unix millis}-{random}.{ext}.
func (f *Facade) objectPath(userID, appName, name string) string {
	return fmt.Sprintf("%s/%s/%d-%s.%s", userID, appName, f.now().UnixMilli(), randomSuffix(), extension(name))
}

func extension(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" || !segmentPattern.MatchString(ext) {
		return "bin"
	}
	return strings.ToLower(ext)
}

func randomSuffix() string {
	s := strconv.FormatUint(rand.Uint64()|1<<63, 36)
	return s[len(s)-6:]
}

// BatchGetFiles returns the user's files for each requested app in one remote
// query. Concurrent identical requests share that query. Apps with no files
// are absent from the result.
func (f *Facade) BatchGetFiles(ctx context.Context, userID string, appNames []string) (map[string][]remote.UserFile, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	if len(appNames) == 0 {
		return map[string][]remote.UserFile{}, nil
	}
	// Names are joined with ',' in the shared key.
	for _, name := range appNames {
		if err := validSegment("app_name", name); err != nil {
			return nil, err
		}
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return map[string][]remote.UserFile{}, nil
	case Configured:
		key := cache.SetKey("batch-files", userID, appNames)
		grouped, err := dedup(ctx, f, key, "batchGetFiles", func(ctx context.Context) (map[string][]remote.UserFile, error) {
			files, err := c.Remote.ListFiles(ctx, remote.FileFilter{UserID: userID, AppNames: appNames})
			if err != nil {
				return nil, err
			}
			return groupByApp(files), nil
		})
		if err != nil {
			return nil, &RemoteError{Op: "batchGetFiles", Err: err}
		}
		return grouped, nil
	}
	return nil, errUnknownConnection
}

// invalidateFiles drops the user's batch-files family. The trailing separator
// keeps user "u1" from matching "u10".
func (f *Facade) invalidateFiles(userID string) {
	f.cache.DeletePrefix(cache.Key("batch-files", userID, ""))
}

func groupByApp(files []remote.UserFile) map[string][]remote.UserFile {
	out := make(map[string][]remote.UserFile)
	for _, file := range files {
		out[file.AppName] = append(out[file.AppName], file)
	}
	return out
}

// ListFiles returns the user's files, newest first, optionally limited to one
// app.
func (f *Facade) ListFiles(ctx context.Context, userID, appName string) ([]remote.UserFile, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	filter := remote.FileFilter{UserID: userID}
	if appName != "" {
		filter.AppNames = []string{appName}
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return []remote.UserFile{}, nil
	case Configured:
		files, err := retry.Do(ctx, f.retry, "listFiles", func(ctx context.Context) ([]remote.UserFile, error) {
			return c.Remote.ListFiles(ctx, filter)
		})
		if err != nil {
			return nil, &RemoteError{Op: "listFiles", Err: err}
		}
		return files, nil
	}
	return nil, errUnknownConnection
}

// DeleteFile removes both the stored blob and its metadata row.
func (f *Facade) DeleteFile(ctx context.Context, userID, fileID string) error {
	if err := requireID("user_id", userID); err != nil {
		return err
	}
	if err := requireID("file_id", fileID); err != nil {
		return err
	}

	switch c := f.conn.(type) {
	case Unconfigured:
		return nil
	case Configured:
		file, err := retry.Do(ctx, f.retry, "deleteFile.lookup", func(ctx context.Context) (*remote.UserFile, error) {
			file, err := c.Remote.GetFile(ctx, userID, fileID)
			if errors.Is(err, remote.ErrNotFound) {
				return nil, retry.Permanent(err)
			}
			return file, err
		})
		if err != nil {
			return &RemoteError{Op: "deleteFile", Err: err}
		}
		if err := retry.Run(ctx, f.retry, "deleteFile.remove", func(ctx context.Context) error {
			return c.Remote.Remove(ctx, FilesBucket, file.FilePath)
		}); err != nil {
			return &UploadError{Path: file.FilePath, Err: err}
		}
		if err := retry.Run(ctx, f.retry, "deleteFile.record", func(ctx context.Context) error {
			return c.Remote.DeleteFile(ctx, userID, fileID)
		}); err != nil {
			return &RemoteError{Op: "deleteFile", Err: err}
		}
		f.invalidateFiles(userID)
		f.track(ctx, "file_deleted", userID, map[string]any{
			"userId":  userID,
			"appName": file.AppName,
			"fileId":  fileID,
		})
		return nil
	}
	return errUnknownConnection
}
