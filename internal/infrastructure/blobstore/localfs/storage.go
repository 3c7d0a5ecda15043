package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

const (
	dirIncoming   = "incoming"
	dirClaimed    = "claimed"
	dirArchive    = "archive"
	dirQuarantine = "quarantine"

	metaSuffix   = ".meta"
	reasonSuffix = ".reason"
)

// Storage is a filesystem blob gateway. All state directories live under one
// root on the same filesystem, so os.Rename is atomic and the rename from
// incoming/ to claimed/ doubles as the claim lock: exactly one of N
// concurrent claimers observes a successful rename.
type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		root = "./data/documents"
	}
	for _, dir := range []string{dirIncoming, dirClaimed, dirArchive, dirQuarantine} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}
	return &Storage{root: root}, nil
}

// sidecar is the optional <name>.meta JSON the mail gateway drops next to
// each document.
type sidecar struct {
	OriginAddress string `json:"origin_address"`
}

// ListPending stats the incoming directory and returns unclaimed items,
// oldest first. The generation token hashes name, size and mtime so that a
// re-upload under the same name yields a new token while repeated listings of
// the same upload stay deduplicatable.
func (s *Storage) ListPending(_ context.Context, limit int) ([]domain.BlobItem, error) {
	entries, err := os.ReadDir(s.dir(dirIncoming))
	if err != nil {
		return nil, fmt.Errorf("read incoming dir: %w", err)
	}

	items := make([]domain.BlobItem, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || isSidecar(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Claimed by another poller between ReadDir and Stat.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		items = append(items, domain.BlobItem{
			Name:          entry.Name(),
			Generation:    generation(entry.Name(), info.Size(), info.ModTime()),
			Size:          info.Size(),
			OriginAddress: s.readOrigin(entry.Name()),
			ReceivedAt:    info.ModTime().UTC(),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].ReceivedAt.Equal(items[j].ReceivedAt) {
			return items[i].Name < items[j].Name
		}
		return items[i].ReceivedAt.Before(items[j].ReceivedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Claim moves the item from incoming/ to claimed/. Losers of a concurrent
// claim race get domain.ErrAlreadyClaimed.
func (s *Storage) Claim(_ context.Context, item domain.BlobItem) error {
	src := filepath.Join(s.dir(dirIncoming), item.Name)
	dst := filepath.Join(s.dir(dirClaimed), item.Name)

	// A same-named blob already being processed must not be clobbered by the
	// rename below; treat it as a lost race and let the next poll retry.
	if _, err := os.Stat(dst); err == nil {
		return domain.WrapError(domain.ErrAlreadyClaimed, "claim blob", fs.ErrExist)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.WrapError(domain.ErrAlreadyClaimed, "claim blob", err)
		}
		return fmt.Errorf("claim blob %s: %w", item.Name, err)
	}
	// The sidecar travels with the document; absence is fine.
	_ = os.Rename(src+metaSuffix, dst+metaSuffix)
	return nil
}

func (s *Storage) Read(_ context.Context, item domain.BlobItem) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(dirClaimed), item.Name))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", item.Name, err)
	}
	return data, nil
}

func (s *Storage) Archive(_ context.Context, item domain.BlobItem) error {
	if _, err := s.moveFromClaimed(item.Name, dirArchive); err != nil {
		return fmt.Errorf("archive blob %s: %w", item.Name, err)
	}
	return nil
}

// Quarantine moves the blob to quarantine/ and records why in a .reason text
// file next to it.
func (s *Storage) Quarantine(_ context.Context, item domain.BlobItem, reason string) error {
	dst, err := s.moveFromClaimed(item.Name, dirQuarantine)
	if err != nil {
		return fmt.Errorf("quarantine blob %s: %w", item.Name, err)
	}
	if reason != "" {
		if err := os.WriteFile(dst+reasonSuffix, []byte(reason+"\n"), 0o644); err != nil {
			return fmt.Errorf("write quarantine reason: %w", err)
		}
	}
	return nil
}

// Release returns a claimed blob to incoming/ so a later poll can re-claim
// it. Calling it twice is safe: a blob already back in incoming/ is left
// alone. A fresh upload occupying the incoming name is an error; the caller
// quarantines the orphan instead of clobbering the new file.
func (s *Storage) Release(_ context.Context, item domain.BlobItem) error {
	src := filepath.Join(s.dir(dirClaimed), item.Name)
	dst := filepath.Join(s.dir(dirIncoming), item.Name)

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
		return fmt.Errorf("release blob %s: claimed copy missing: %w", item.Name, fs.ErrNotExist)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("release blob %s: incoming already holds a file with that name", item.Name)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("release blob %s: %w", item.Name, err)
	}
	_ = os.Rename(src+metaSuffix, dst+metaSuffix)
	return nil
}

func (s *Storage) moveFromClaimed(name, dstDir string) (string, error) {
	src := filepath.Join(s.dir(dirClaimed), name)
	dst, err := moveFileToDir(src, s.dir(dstDir))
	if err != nil {
		return "", err
	}
	_ = os.Rename(src+metaSuffix, dst+metaSuffix)
	return dst, nil
}

// moveFileToDir renames src into dstDir, suffixing the destination name on
// collision and falling back to copy+remove when the rename crosses devices.
func moveFileToDir(srcPath, dstDir string) (string, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(srcPath)
	dstPath := filepath.Join(dstDir, base)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(dstDir, fmt.Sprintf("%s-%d%s", stem, time.Now().UnixNano(), ext))
	}

	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return "", closeErr
	}
	if err := os.Remove(srcPath); err != nil {
		return "", err
	}
	return dstPath, nil
}

func (s *Storage) dir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Storage) readOrigin(name string) string {
	raw, err := os.ReadFile(filepath.Join(s.dir(dirIncoming), name+metaSuffix))
	if err != nil {
		return ""
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	return strings.TrimSpace(meta.OriginAddress)
}

func isSidecar(name string) bool {
	return strings.HasSuffix(name, metaSuffix) || strings.HasSuffix(name, reasonSuffix)
}

func generation(name string, size int64, mtime time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d", name, size, mtime.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}
