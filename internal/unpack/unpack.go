// Package unpack extracts component archives through a bounded worker
// pool with byte-budget backpressure.
//
// The tar stream must be read sequentially, so one producer walks the
// archive, buffers each regular file and hands it to the pool; workers
// write files to disk in parallel. The producer blocks acquiring budget
// tokens (sized in bytes, not items) before buffering, so total
// buffered-but-unwritten data stays under the budget even when disk
// throughput lags the decompressor.
package unpack

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultByteBudget caps buffered, not-yet-written data across all
	// workers.
	DefaultByteBudget = 512 << 20

	// EnvIOThreads overrides the worker count; "1" forces
	// single-threaded operation for diagnosis.
	EnvIOThreads = "TCMUX_IO_THREADS"

	// EnvUnpackRAM overrides the byte budget.
	EnvUnpackRAM = "TCMUX_UNPACK_RAM"
)

// Options size the pipeline.
type Options struct {
	Workers    int   // defaults to the processor count
	ByteBudget int64 // defaults to DefaultByteBudget
}

// OptionsFromEnv reads operator overrides from the environment.
func OptionsFromEnv() Options {
	var opts Options
	if s := os.Getenv(EnvIOThreads); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			opts.Workers = n
		}
	}
	if s := os.Getenv(EnvUnpackRAM); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			opts.ByteBudget = n
		}
	}
	return opts
}

// Entry records one filesystem object created by an unpack, relative to
// the destination root. The installer turns these into its commit plan.
type Entry struct {
	RelPath string
	Dir     bool
}

// Unpacker extracts tar.gz archives.
type Unpacker struct {
	workers int
	budget  int64
	log     zerolog.Logger
}

// New builds an unpacker, applying defaults for unset options.
func New(opts Options, log zerolog.Logger) *Unpacker {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	budget := opts.ByteBudget
	if budget <= 0 {
		budget = DefaultByteBudget
	}
	return &Unpacker{workers: workers, budget: budget, log: log}
}

type fileItem struct {
	relPath string
	mode    os.FileMode
	data    []byte
	tokens  int64 // budget held for this item
}

// Unpack extracts archivePath under destDir and returns every created
// entry. Directories and symlinks are created by the producer in stream
// order; regular files are distributed across the worker pool.
func (u *Unpacker) Unpack(ctx context.Context, archivePath, destDir string) ([]Entry, error) {
	u.log.Debug().Str("archive", archivePath).Int("workers", u.workers).
		Int64("budget", u.budget).Msg("unpacking archive")

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}

	sem := semaphore.NewWeighted(u.budget)
	items := make(chan fileItem)

	var mu sync.Mutex
	var entries []Entry
	record := func(e Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < u.workers; i++ {
		g.Go(func() error {
			for item := range items {
				err := writeFile(filepath.Join(destDir, item.relPath), item.data, item.mode)
				sem.Release(item.tokens)
				if err != nil {
					return err
				}
				record(Entry{RelPath: item.relPath})
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(items)

		tarReader := tar.NewReader(gzipReader)
		for {
			header, err := tarReader.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read tar header: %w", err)
			}

			relPath := filepath.Clean(header.Name)
			if relPath == "." {
				// "tar -C dir -cz ." emits the root itself as "./";
				// the destination already exists.
				continue
			}
			target := filepath.Join(destDir, relPath)
			// Path traversal guard.
			if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
				return fmt.Errorf("illegal file path in archive: %s", header.Name)
			}

			switch header.Typeflag {
			case tar.TypeDir:
				if err := os.MkdirAll(target, 0o755); err != nil {
					return fmt.Errorf("create directory %s: %w", target, err)
				}
				record(Entry{RelPath: relPath, Dir: true})

			case tar.TypeReg:
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return fmt.Errorf("create parent dir for %s: %w", target, err)
				}
				grab := header.Size
				if grab > u.budget {
					// Oversized file: take the whole budget, which
					// serializes it against everything else.
					grab = u.budget
				}
				if err := sem.Acquire(ctx, grab); err != nil {
					return err
				}
				data := make([]byte, header.Size)
				if _, err := io.ReadFull(tarReader, data); err != nil {
					sem.Release(grab)
					return fmt.Errorf("read %s from archive: %w", header.Name, err)
				}
				item := fileItem{relPath: relPath, mode: os.FileMode(header.Mode).Perm(), data: data, tokens: grab}
				select {
				case items <- item:
				case <-ctx.Done():
					sem.Release(grab)
					return ctx.Err()
				}

			case tar.TypeSymlink:
				if err := os.Symlink(header.Linkname, target); err != nil {
					return fmt.Errorf("create symlink %s: %w", target, err)
				}
				record(Entry{RelPath: relPath})

			default:
				// Skip other types (devices, fifos).
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic order for the commit plan; directories first so
	// parents exist before their files are renamed into place.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return entries[i].RelPath < entries[j].RelPath
	})
	return entries, nil
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", path, err)
	}
	return nil
}
