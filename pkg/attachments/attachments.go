// Package attachments enforces the upload size limit and stores uploaded
// files so messages can reference them by URL.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

// DefaultMaxSize is the upload limit when none is configured.
const DefaultMaxSize int64 = 10 * humanize.MiByte

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true, ".svg": true,
}

// CheckSize rejects sizes above limit with a user-visible ValidationError.
func CheckSize(size, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxSize
	}
	if size < 0 {
		return chaterr.Validation("attachment", "size must not be negative")
	}
	if size > limit {
		return chaterr.Validation("attachment", fmt.Sprintf("file exceeds %s limit", humanize.IBytes(uint64(limit))))
	}
	return nil
}

// KindOf classifies a file by extension, falling back to a sniffed
// content type.
func KindOf(name string, head []byte) models.AttachmentKind {
	if imageExts[strings.ToLower(filepath.Ext(name))] {
		return models.AttachmentImage
	}
	if len(head) > 0 && strings.HasPrefix(http.DetectContentType(head), "image/") {
		return models.AttachmentImage
	}
	return models.AttachmentFile
}

// BlobStore is the upload-and-get-URL capability messages rely on.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) (models.Attachment, error)
}

var _ BlobStore = (*DiskStore)(nil)

// DiskStore keeps uploads in a local directory and serves them under
// BaseURL.
type DiskStore struct {
	Dir     string
	BaseURL string
	MaxSize int64
	// MinFree is the free space uploads must leave on the volume; 0 disables
	// the check.
	MinFree int64
}

var errDiskFull = errors.New("uploads volume is low on space")

// HasRoom reports whether the uploads volume has at least MinFree bytes
// available. Unknown free space counts as room.
func (d *DiskStore) HasRoom() bool {
	return d.checkRoom(0) == nil
}

func (d *DiskStore) checkRoom(incoming int64) error {
	if d.MinFree <= 0 {
		return nil
	}
	free, err := freeBytes(d.Dir)
	if err != nil {
		logger.Warn("uploads_statfs_failed", "dir", d.Dir, "error", err)
		return nil
	}
	if free >= 0 && free-incoming < d.MinFree {
		logger.Warn("uploads_disk_low", "dir", d.Dir, "free", humanize.Bytes(uint64(free)), "min_free", humanize.Bytes(uint64(d.MinFree)))
		return errDiskFull
	}
	return nil
}

func NewDiskStore(dir, baseURL string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &DiskStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), MaxSize: maxSize}, nil
}

// Put stores r under a fresh name. size is the declared length (-1 when
// unknown); the limit is enforced on the bytes actually read either way.
func (d *DiskStore) Put(ctx context.Context, name string, r io.Reader, size int64) (models.Attachment, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return models.Attachment{}, chaterr.Validation("name", "file name is required")
	}
	if size >= 0 {
		if err := CheckSize(size, d.MaxSize); err != nil {
			return models.Attachment{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return models.Attachment{}, err
	}
	incoming := size
	if incoming < 0 {
		incoming = d.MaxSize
	}
	if err := d.checkRoom(incoming); err != nil {
		return models.Attachment{}, chaterr.Transient("store_upload", err)
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	path := filepath.Join(d.Dir, stored)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return models.Attachment{}, chaterr.Transient("store_upload", err)
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	src := io.MultiReader(bytes.NewReader(head), io.LimitReader(r, d.MaxSize+1-int64(n)))
	written, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > d.MaxSize {
		err = CheckSize(written, d.MaxSize)
	}
	if err != nil {
		_ = os.Remove(path)
		if chaterr.IsValidation(err) {
			return models.Attachment{}, err
		}
		return models.Attachment{}, chaterr.Transient("store_upload", err)
	}

	logger.Info("upload_stored", "name", name, "stored", stored, "size", humanize.Bytes(uint64(written)))
	return models.Attachment{
		URL:       d.BaseURL + "/" + stored,
		Name:      name,
		Kind:      KindOf(name, head),
		SizeBytes: written,
	}, nil
}

// Open returns the stored file called stored. Names that are not plain
// file names are reported as not found.
func (d *DiskStore) Open(stored string) (*os.File, error) {
	if stored == "" || stored != filepath.Base(stored) || strings.HasPrefix(stored, ".") {
		return nil, chaterr.NotFound("file", stored)
	}
	f, err := os.Open(filepath.Join(d.Dir, stored))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, chaterr.NotFound("file", stored)
		}
		return nil, chaterr.Transient("open_upload", err)
	}
	return f, nil
}
