// Package filewatch detects freshly-downloaded statement files: it waits
// for a new, size-stable file to appear under a download directory and
// sniffs its content so an HTML error page saved under a statement name is
// not mistaken for data.
package filewatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
)

// ErrNoFile is returned when no matching stable file appears in time.
var ErrNoFile = errors.New("no new stable file")

// Options controls WaitNewest.
type Options struct {
	// Extensions the caller accepts, lowercase with dot (".csv"). Empty
	// accepts any non-temporary file.
	Extensions []string
	// Timeout bounds the whole wait. Zero means 60s.
	Timeout time.Duration
	// StableFor is how long the file size must hold still. Zero means 500ms.
	StableFor time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.StableFor <= 0 {
		o.StableFor = 500 * time.Millisecond
	}
	return o
}

// temp suffixes browsers use for in-flight downloads.
var tempSuffixes = []string{".crdownload", ".part", ".tmp", ".download"}

func temporary(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range tempSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func matches(name string, exts []string) bool {
	if temporary(name) {
		return false
	}
	if len(exts) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

// WaitNewest blocks until a file matching opts appears (or reappears) under
// dir with a modification time after since and a size that holds still for
// opts.StableFor. It returns the absolute path of that file.
//
// Directory events arrive via fsnotify; a periodic rescan backs them up
// because browsers finish downloads with renames some platforms coalesce.
func WaitNewest(ctx context.Context, dir string, since time.Time, opts Options) (string, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("filewatch: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return "", fmt.Errorf("filewatch: watch %s: %w", dir, err)
	}

	rescan := time.NewTicker(500 * time.Millisecond)
	defer rescan.Stop()

	for {
		if path, ok := newestAfter(dir, since, opts.Extensions); ok {
			stable, err := waitStable(ctx, path, opts.StableFor)
			if err != nil {
				return "", err
			}
			if stable {
				if err := sniff(path); err != nil {
					return "", err
				}
				return filepath.Abs(path)
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("filewatch: %s: %w", dir, ErrNoFile)
		case <-watcher.Events:
		case <-watcher.Errors:
		case <-rescan.C:
		}
	}
}

// newestAfter returns the most recently modified matching file newer than
// since.
func newestAfter(dir string, since time.Time, exts []string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !matches(e.Name(), exts) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(since) && info.ModTime().After(bestMod) {
			best = filepath.Join(dir, e.Name())
			bestMod = info.ModTime()
		}
	}
	return best, best != ""
}

// waitStable reports whether the file's size holds still for d. Two stats
// d apart must agree on a non-zero size.
func waitStable(ctx context.Context, path string, d time.Duration) (bool, error) {
	first, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("filewatch: %s: %w", path, ErrNoFile)
	case <-time.After(d):
	}
	second, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	return first.Size() > 0 && first.Size() == second.Size(), nil
}

// sniff rejects files whose content is an HTML page: portals answer failed
// statement requests with error pages under the statement filename.
func sniff(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("filewatch: sniff %s: %w", path, err)
	}
	if mt.Is("text/html") {
		return fmt.Errorf("filewatch: %s is an html page, not a statement", filepath.Base(path))
	}
	return nil
}

// Newest returns the most recently modified file under dir with one of the
// given extensions, regardless of age.
func Newest(dir string, exts []string) (string, error) {
	path, ok := newestAfter(dir, time.Time{}, exts)
	if !ok {
		return "", fmt.Errorf("filewatch: %s: %w", dir, ErrNoFile)
	}
	return filepath.Abs(path)
}
