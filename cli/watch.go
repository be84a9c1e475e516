package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/surfaces/rimage"
	"go.viam.com/surfaces/vision/surfaces"
)

// WatchAction runs surface detection on every frame written to a directory until interrupted.
func WatchAction(c *cli.Context) (err error) {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one directory")
	}
	dir := c.Args().First()
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c)
	detector, err := surfaces.NewDetector(*cfg, logger.Sublogger("detector"))
	if err != nil {
		return err
	}
	fw, err := newFrameWatcher(dir, c.Duration(flagQuiet))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, fw.Close())
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	var outMu sync.Mutex
	fmt.Fprintf(c.App.Writer, "watching %s for pcd frames\n", dir)
	return fw.Run(ctx, func(path string) {
		line, err := detectFrame(ctx, detector, path)
		outMu.Lock()
		defer outMu.Unlock()
		if err != nil {
			logger.Warnw("cannot process frame", "path", path, "error", err)
			return
		}
		fmt.Fprintln(c.App.Writer, line)
	})
}

// detectFrame runs the detector over one pcd file and summarizes the result on one line.
func detectFrame(ctx context.Context, d *surfaces.Detector, path string) (string, error) {
	m, err := rimage.ParseXYZMapPCDFile(path)
	if err != nil {
		return "", err
	}
	status, err := d.Update(ctx, m)
	if err != nil {
		return "", err
	}
	stats := d.Stats()
	return fmt.Sprintf("%s %s clusters=%d plane_inliers=%d sphere_inliers=%d total=%s",
		filepath.Base(path), status, stats.Clusters, len(d.PlaneIndices()), len(d.SphereIndices()), stats.Total), nil
}

func isPCDFile(name string) bool {
	return strings.HasSuffix(name, ".pcd") || strings.HasSuffix(name, ".pcd.gz")
}

// frameWatcher reports the newest pcd file created or written in a directory. Events are
// debounced so a frame is only reported once its writer has been quiet for a while; frames
// replaced during that time are skipped.
type frameWatcher struct {
	watcher   *fsnotify.Watcher
	debounced func(func())

	mu     sync.Mutex
	latest string

	// handling is held while a frame is handled; stopped is set under it once Run returns.
	handling sync.Mutex
	stopped  bool
}

func newFrameWatcher(dir string, quiet time.Duration) (*frameWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %s", dir), watcher.Close())
	}
	return &frameWatcher{watcher: watcher, debounced: debounce.New(quiet)}, nil
}

// Run calls handle with each settled frame until ctx is done or the watcher fails. No frame is
// handled after Run returns.
func (fw *frameWatcher) Run(ctx context.Context, handle func(path string)) error {
	defer fw.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) || !isPCDFile(event.Name) {
				continue
			}
			fw.mu.Lock()
			fw.latest = event.Name
			fw.mu.Unlock()
			fw.debounced(func() {
				fw.mu.Lock()
				path := fw.latest
				fw.mu.Unlock()

				fw.handling.Lock()
				defer fw.handling.Unlock()
				if fw.stopped || ctx.Err() != nil {
					return
				}
				handle(path)
			})
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// stop replaces a pending frame with a no-op and waits for a frame being handled to finish.
func (fw *frameWatcher) stop() {
	fw.debounced(func() {})
	fw.handling.Lock()
	fw.stopped = true
	fw.handling.Unlock()
}

func (fw *frameWatcher) Close() error {
	return fw.watcher.Close()
}
