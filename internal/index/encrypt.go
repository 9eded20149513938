package index

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/keerthi16/SwiftSearch/internal/engine"
)

// Snapshot file layout: magic | version | snapshot id | nonce | ciphertext.
// The first three parts are authenticated as additional data.
var snapshotMagic = []byte("SSIX")

const (
	snapshotVersion = 1
	headerLen       = 4 + 1 + 16
)

// ErrNoKey is returned when EncryptIndex has no key to use.
var ErrNoKey = errors.New("no encryption key")

// SnapshotPath returns where EncryptIndex writes the snapshot for userID.
func SnapshotPath(dir, userID string) string {
	return filepath.Join(dir, fmt.Sprintf("search_index_%s.enc", pathSegment(userID)))
}

// EncryptIndex writes an AES-256-GCM encrypted tar.gz of the main index.
// An empty key falls back to the key given at open.
func (e *Engine) EncryptIndex(ctx context.Context, key string) error {
	if !e.IsLibInit() {
		return engine.ErrNotInitialized
	}
	if key == "" {
		key = e.key
	}
	if key == "" {
		return ErrNoKey
	}

	var archive bytes.Buffer
	err := e.main.snapshot(e.logger, func(dir string) error {
		return archiveDir(ctx, dir, &archive)
	})
	if err != nil {
		return fmt.Errorf("failed to archive index: %w", err)
	}

	id := uuid.New()
	sealed, err := seal(archive.Bytes(), key, id)
	if err != nil {
		return err
	}

	path := SnapshotPath(e.opts.SnapshotDir, e.userID)
	if err := writeAtomic(path, sealed); err != nil {
		return err
	}

	snap := Snapshot{
		ID:        id.String(),
		UserID:    e.userID,
		Path:      path,
		Size:      int64(len(sealed)),
		CreatedAt: time.Now(),
	}
	if err := e.meta.recordSnapshot(ctx, snap); err != nil {
		return err
	}

	e.logger.Info("index_encrypted",
		slog.String("snapshot_id", snap.ID),
		slog.String("path", path),
		slog.Int64("size", snap.Size))
	return nil
}

// Snapshots lists the encrypted snapshots written for this user.
func (e *Engine) Snapshots(ctx context.Context) ([]Snapshot, error) {
	if !e.IsLibInit() {
		return nil, engine.ErrNotInitialized
	}
	return e.meta.snapshots(ctx, e.userID)
}

// DecryptSnapshot reads a snapshot written by EncryptIndex and unpacks the
// index files into dest. Returns the snapshot id.
func DecryptSnapshot(r io.Reader, key, dest string) (uuid.UUID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) < headerLen || !bytes.Equal(data[:4], snapshotMagic) {
		return uuid.Nil, fmt.Errorf("not a search index snapshot")
	}
	if data[4] != snapshotVersion {
		return uuid.Nil, fmt.Errorf("unsupported snapshot version %d", data[4])
	}
	id, err := uuid.FromBytes(data[5:headerLen])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid snapshot id: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return uuid.Nil, err
	}
	rest := data[headerLen:]
	if len(rest) < gcm.NonceSize() {
		return uuid.Nil, fmt.Errorf("snapshot truncated")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, data[:headerLen])
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to decrypt snapshot: %w", err)
	}

	if err := extractArchive(bytes.NewReader(plain), dest); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func newGCM(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func seal(plain []byte, key string, id uuid.UUID) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLen)
	header = append(header, snapshotMagic...)
	header = append(header, snapshotVersion)
	header = append(header, id[:]...)

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, headerLen+len(nonce)+len(plain)+gcm.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plain, header), nil
}

// archiveDir writes every regular file under root to w as tar.gz, with
// paths relative to root.
func archiveDir(ctx context.Context, root string, w io.Writer) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		header := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.CopyN(tarWriter, f, info.Size())
		return err
	})
	if err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func extractArchive(r io.Reader, dest string) error {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open snapshot archive: %w", err)
	}
	defer func() { _ = gzReader.Close() }()

	cleanDest := filepath.Clean(dest)
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read snapshot archive: %w", err)
		}

		target := filepath.Join(cleanDest, filepath.FromSlash(header.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("snapshot entry escapes destination: %s", header.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(f, tarReader)
		closeErr := f.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}
	}
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
