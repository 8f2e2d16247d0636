package storage

import (
	"context"
	"log/slog"
	"time"
)

// MetadataIndex answers whether a storage name is still referenced by a
// metadata row. Satisfied by *database.Repository.
type MetadataIndex interface {
	StorageNameExists(ctx context.Context, storageName string) (bool, error)
}

// Janitor periodically removes blobs that have no metadata row. A crash
// between writing a blob and inserting its row leaves such orphans behind;
// they are harmless but occupy disk.
type Janitor struct {
	index    MetadataIndex
	store    Store
	interval time.Duration
	minAge   time.Duration
	done     chan struct{}
}

// NewJanitor creates a janitor. minAge is the grace period before an
// unreferenced blob is considered an orphan rather than an in-flight upload.
func NewJanitor(index MetadataIndex, store Store, interval, minAge time.Duration) *Janitor {
	return &Janitor{
		index:    index,
		store:    store,
		interval: interval,
		minAge:   minAge,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (j *Janitor) Start(ctx context.Context) {
	slog.Info("blob janitor started", "interval", j.interval, "min_age", j.minAge)

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-ctx.Done():
				slog.Info("blob janitor stopping")
				close(j.done)
				return
			}
		}
	}()
}

// Wait blocks until the janitor has fully stopped.
func (j *Janitor) Wait() {
	<-j.done
}

func (j *Janitor) sweep(ctx context.Context) {
	blobs, err := j.store.List()
	if err != nil {
		slog.Error("janitor failed to list blobs", "error", err)
		return
	}

	cutoff := time.Now().Add(-j.minAge)
	var removed int
	for _, blob := range blobs {
		if blob.ModTime.After(cutoff) {
			continue
		}

		referenced, err := j.index.StorageNameExists(ctx, blob.Name)
		if err != nil {
			slog.Error("janitor failed to check blob reference",
				"blob", blob.Name,
				"error", err,
			)
			continue
		}
		if referenced {
			continue
		}

		if err := j.store.Delete(blob.Name); err != nil {
			slog.Error("janitor failed to delete orphan blob",
				"blob", blob.Name,
				"error", err,
			)
			continue
		}

		removed++
		slog.Info("removed orphan blob", "blob", blob.Name, "size", blob.Size)
	}

	if removed > 0 {
		slog.Info("janitor sweep complete", "removed", removed, "scanned", len(blobs))
	}
}
