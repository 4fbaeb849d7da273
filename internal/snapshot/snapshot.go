// Package snapshot copies the event database to object storage and restores it.
//
// A snapshot is two objects under <prefix>/<id>/: the database compressed as
// a framed snappy stream, and a meta.json sidecar carrying the murmur3
// checksum of the uncompressed bytes.
package snapshot

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	apperrors "github.com/tracklet/tracklet/internal/errors"
	"github.com/tracklet/tracklet/internal/platform/logger"
	"github.com/tracklet/tracklet/internal/storage"
)

const (
	dataObjectName = "tracklet.db.sz"
	metaObjectName = "meta.json"

	checksumAlgorithm = "murmur3-128"
	compressionFormat = "snappy-framed"
)

// Meta is the sidecar stored next to every snapshot.
type Meta struct {
	SnapshotID        string `json:"snapshot_id"`
	CreatedAt         int64  `json:"created_at"`
	SizeBytes         int64  `json:"size_bytes"`
	CompressedBytes   int64  `json:"compressed_bytes"`
	Checksum          string `json:"checksum"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
	Compression       string `json:"compression"`
}

// Source produces a consistent copy of the live database.
type Source interface {
	Snapshot(ctx context.Context, dest string) error
}

// Manager creates, lists, prunes and restores snapshots.
type Manager struct {
	source  Source
	storage storage.ObjectStorage
	prefix  string
	workDir string
	log     *logger.Logger
	now     func() time.Time
}

// NewManager creates a snapshot manager. source may be nil for restore-only use.
func NewManager(source Source, objects storage.ObjectStorage, prefix, workDir string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		source:  source,
		storage: objects,
		prefix:  strings.Trim(prefix, "/"),
		workDir: workDir,
		log:     log.With("component", "snapshot"),
		now:     time.Now,
	}
}

// Create snapshots the live database and uploads it with its sidecar.
func (m *Manager) Create(ctx context.Context) (*Meta, error) {
	if m.source == nil {
		return nil, apperrors.NewInternalError("snapshot source is not configured", nil)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.NewInternalError("generate snapshot id", err)
	}
	if err := os.MkdirAll(m.workDir, 0755); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeSnapshotFailed, "create work dir", err)
	}

	rawPath := filepath.Join(m.workDir, id.String()+".db")
	compressedPath := rawPath + ".sz"
	metaPath := filepath.Join(m.workDir, id.String()+".meta.json")
	defer os.Remove(rawPath)
	defer os.Remove(compressedPath)
	defer os.Remove(metaPath)

	if err := m.source.Snapshot(ctx, rawPath); err != nil {
		return nil, err
	}

	meta := &Meta{
		SnapshotID:        id.String(),
		CreatedAt:         m.now().UnixMilli(),
		ChecksumAlgorithm: checksumAlgorithm,
		Compression:       compressionFormat,
	}
	if meta.SizeBytes, meta.CompressedBytes, meta.Checksum, err = compressFile(rawPath, compressedPath); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeSnapshotFailed, "compress snapshot", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, apperrors.NewInternalError("encode snapshot meta", err)
	}
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeSnapshotFailed, "write snapshot meta", err)
	}

	// Data first, so a visible sidecar always points at a complete object.
	if err := m.storage.Upload(ctx, compressedPath, m.dataObject(meta.SnapshotID)); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeUploadFailed, "upload snapshot data", err)
	}
	if err := m.storage.Upload(ctx, metaPath, m.metaObject(meta.SnapshotID)); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeUploadFailed, "upload snapshot meta", err)
	}

	m.log.Info("Snapshot uploaded",
		"snapshot_id", meta.SnapshotID, "size_bytes", meta.SizeBytes, "compressed_bytes", meta.CompressedBytes)
	return meta, nil
}

// List returns every snapshot's sidecar, newest first.
func (m *Manager) List(ctx context.Context) ([]Meta, error) {
	objects, err := m.storage.ListObjects(ctx, m.prefix)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "list snapshots", err)
	}

	var metaObjects []string
	for _, obj := range objects {
		if path.Base(obj) == metaObjectName {
			metaObjects = append(metaObjects, obj)
		}
	}
	if len(metaObjects) == 0 {
		return []Meta{}, nil
	}

	dir, err := os.MkdirTemp(m.workDir, "list-")
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "create list dir", err)
	}
	defer os.RemoveAll(dir)

	fetched, err := storage.NewFetcher(m.storage, 4, dir).FetchAll(ctx, metaObjects)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "fetch snapshot metadata", err)
	}

	metas := make([]Meta, 0, len(fetched))
	for obj, local := range fetched {
		meta, err := readMeta(local)
		if err != nil {
			m.log.Warn("Skipping unreadable snapshot metadata", "object", obj, "error", err)
			continue
		}
		metas = append(metas, *meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt != metas[j].CreatedAt {
			return metas[i].CreatedAt > metas[j].CreatedAt
		}
		return metas[i].SnapshotID > metas[j].SnapshotID
	})
	return metas, nil
}

// Prune deletes all but the newest keep snapshots and returns the ids removed.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	metas, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for i := keep; i < len(metas); i++ {
		id := metas[i].SnapshotID
		// Sidecar first, so List never reports a snapshot whose data is gone.
		if err := m.storage.Delete(ctx, m.metaObject(id)); err != nil {
			return removed, apperrors.NewStorageError(apperrors.CodeSnapshotFailed, "delete snapshot meta", err)
		}
		if err := m.storage.Delete(ctx, m.dataObject(id)); err != nil {
			return removed, apperrors.NewStorageError(apperrors.CodeSnapshotFailed, "delete snapshot data", err)
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		m.log.Info("Pruned snapshots", "removed", len(removed), "kept", keep)
	}
	return removed, nil
}

// Restore downloads snapshot id, verifies its checksum and writes the database
// to dest. dest must not exist.
func (m *Manager) Restore(ctx context.Context, id, dest string) (*Meta, error) {
	if _, err := os.Stat(dest); err == nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed,
			fmt.Sprintf("restore target %s already exists", dest), nil)
	}

	if err := os.MkdirAll(m.workDir, 0755); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "create work dir", err)
	}
	dir, err := os.MkdirTemp(m.workDir, "restore-")
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "create restore dir", err)
	}
	defer os.RemoveAll(dir)

	dataObj, metaObj := m.dataObject(id), m.metaObject(id)
	fetched, err := storage.NewFetcher(m.storage, 2, dir).FetchAll(ctx, []string{dataObj, metaObj})
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "fetch snapshot "+id, err)
	}

	meta, err := readMeta(fetched[metaObj])
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "read snapshot meta", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "create restore target dir", err)
	}
	tmp := dest + ".restoring"
	defer os.Remove(tmp)

	size, checksum, err := decompressFile(fetched[dataObj], tmp)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "decompress snapshot", err)
	}
	if checksum != meta.Checksum || size != meta.SizeBytes {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed,
			fmt.Sprintf("snapshot %s failed verification: checksum %s, expected %s", id, checksum, meta.Checksum), nil)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeDownloadFailed, "move restored database", err)
	}

	m.log.Info("Snapshot restored", "snapshot_id", id, "dest", dest, "size_bytes", size)
	return meta, nil
}

func (m *Manager) dataObject(id string) string {
	return path.Join(m.prefix, id, dataObjectName)
}

func (m *Manager) metaObject(id string) string {
	return path.Join(m.prefix, id, metaObjectName)
}

func readMeta(localPath string) (*Meta, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.SnapshotID == "" || meta.Checksum == "" {
		return nil, errors.New("incomplete snapshot metadata")
	}
	return &meta, nil
}

// compressFile writes src to dst as a framed snappy stream and returns the
// raw size, compressed size and checksum of the raw bytes.
func compressFile(src, dst string) (rawSize, compressedSize int64, checksum string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, "", err
	}
	defer out.Close()

	h := murmur3.New128()
	w := snappy.NewBufferedWriter(out)
	rawSize, err = io.Copy(w, io.TeeReader(in, h))
	if err != nil {
		return 0, 0, "", err
	}
	if err := w.Close(); err != nil {
		return 0, 0, "", err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, 0, "", err
	}
	return rawSize, info.Size(), hex.EncodeToString(h.Sum(nil)), nil
}

// decompressFile inflates a framed snappy stream from src into dst and
// returns the raw size and checksum.
func decompressFile(src, dst string) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, "", err
	}

	h := murmur3.New128()
	n, err := io.Copy(io.MultiWriter(out, h), snappy.NewReader(in))
	if err != nil {
		out.Close()
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
