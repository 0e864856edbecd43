package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyverse-de/go-mod/restutils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/salt-extensions/salt-extensions-metadata/cache"
	"github.com/salt-extensions/salt-extensions-metadata/client/pypi"
	"github.com/salt-extensions/salt-extensions-metadata/extensions"
)

// ErrTimedOut is returned by Run when the crawl did not finish in time. The
// cache holds everything fetched up to that point.
var ErrTimedOut = errors.New("crawl timed out")

// maxListedNew caps how many new package names are logged individually.
const maxListedNew = 100

type CrawlSettings struct {
	Concurrency int
	Timeout     time.Duration
	Fast        bool
	NoProgress  bool

	// IndexPath is the index info file, Fingerprint identifies the crawler
	// build that wrote it.
	IndexPath   string
	Fingerprint string
}

type Crawler struct {
	pypiClient *pypi.PyPIClient
	classifier *extensions.Classifier
	store      *cache.Store
	state      *cache.StateDir
	notifier   *Notifier

	settings CrawlSettings
	limiter  *semaphore.Weighted

	processed atomic.Int64
	log       *logrus.Entry
}

// NewCrawler wires a crawler. notifier may be nil.
func NewCrawler(pypiClient *pypi.PyPIClient, classifier *extensions.Classifier, store *cache.Store, state *cache.StateDir, notifier *Notifier, settings CrawlSettings) *Crawler {
	if settings.Concurrency < 1 {
		settings.Concurrency = 1
	}
	return &Crawler{
		pypiClient: pypiClient,
		classifier: classifier,
		store:      store,
		state:      state,
		notifier:   notifier,
		settings:   settings,
		limiter:    semaphore.NewWeighted(int64(settings.Concurrency)),
		log:        log,
	}
}

func (c *Crawler) newBar(max int64, description string, bytes bool) *progressbar.ProgressBar {
	description = fmt.Sprintf("%-60s", description)
	if c.settings.NoProgress {
		return progressbar.DefaultSilent(max, description)
	}
	opts := []progressbar.Option{
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100 * time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	}
	if bytes {
		opts = append(opts, progressbar.OptionShowBytes(true))
	} else {
		opts = append(opts, progressbar.OptionShowCount(), progressbar.OptionShowIts(), progressbar.OptionSetItsString("pkg"))
	}
	return progressbar.NewOptions64(max, opts...)
}

// Run performs one full crawl: refresh the package list from the simple
// index, look up every package, and update the extension cache. The index
// info is saved even when the crawl is interrupted.
func (c *Crawler) Run(ctx context.Context) (summary CrawlSummary, err error) {
	runID := uuid.New().String()
	c.log = log.WithField("run", runID)
	c.processed.Store(0)

	ctx, span := otel.Tracer(otelName).Start(ctx, "Crawl")
	defer span.End()
	span.SetAttributes(attribute.String("run", runID))

	crawlCtx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	c.log.Infof("Local Cache Path: %s", c.store.Dir)

	info, err := cache.LoadIndex(c.settings.IndexPath, c.settings.Fingerprint)
	if err != nil {
		return summary, errors.Wrap(err, "Failed loading index info")
	}

	before, err := c.store.List()
	if err != nil {
		return summary, err
	}

	err = c.DownloadIndex(crawlCtx, info)
	if err == nil {
		err = c.CollectPackages(crawlCtx, info)
	}

	c.log.Info("Saving cache")
	if serr := info.Save(c.settings.IndexPath, c.settings.Fingerprint); serr != nil {
		return summary, errors.Wrap(serr, "Failed saving index info")
	}

	hash, herr := c.state.WriteExtensionsHash(c.store)
	if herr != nil {
		c.log.Error(errors.Wrap(herr, "Failed to generate the known extensions hash"))
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.log.Errorf("The crawl timed out after %s", c.settings.Timeout)
			return summary, ErrTimedOut
		}
		return summary, err
	}

	after, err := c.store.List()
	if err != nil {
		return summary, err
	}

	summary = CrawlSummary{
		RunID:          runID,
		Packages:       len(info.Packages),
		Processed:      c.processed.Load(),
		Extensions:     after,
		Added:          difference(after, before),
		Removed:        difference(before, after),
		ExtensionsHash: hash,
	}

	c.log.Info("Detected Salt Extensions:")
	for _, name := range after {
		c.log.Infof(" * %s", name)
	}

	if c.notifier != nil {
		if nerr := c.notifier.Notify(ctx, summary); nerr != nil {
			c.log.Error(errors.Wrap(nerr, "Failed publishing crawl notifications"))
		}
	}

	return summary, nil
}

// DownloadIndex refreshes the package list in info from the simple index.
// Failures to reach the index are logged and leave the list as it was; only
// cancellation is returned.
func (c *Crawler) DownloadIndex(ctx context.Context, info *cache.IndexInfo) error {
	ctx, span := otel.Tracer(otelName).Start(ctx, "DownloadIndex")
	defer span.End()

	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.limiter.Release(1)

	c.log.Info("Querying packages from PyPi")

	tmp, err := os.CreateTemp("", "pypi-simple-index-*.html")
	if err != nil {
		return errors.Wrap(err, "Failed creating download file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	var bar *progressbar.ProgressBar
	resp, err := c.pypiClient.FetchSimpleIndex(ctx, info.ETag, tmp, func(total int64) io.Writer {
		bar = c.newBar(total, "Downloading PyPi simple index", true)
		return bar
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Errorf("Failed to download the PyPi index. Status Code: %d: %s", restutils.GetStatusCode(err), err)
		return nil
	}
	if resp.NotModified {
		c.log.Info("There are no new packages")
		return nil
	}

	c.log.Info("Parsing HTML for packages")
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "Failed rewinding download file")
	}
	names, err := pypi.ParseSimpleIndex(bufio.NewReader(tmp))
	if err != nil {
		c.log.Error(err)
		return nil
	}
	if len(names) == 0 {
		c.log.Warnf("The PyPi index listed no packages (%d bytes). Keeping the previous list.", resp.Size)
		return nil
	}

	// The ETag is only recorded once the listing has been applied, otherwise
	// a failed parse would be masked by a 304 on the next run.
	info.ETag = resp.ETag
	if err = c.state.WriteIndexETag(resp.ETag); err != nil {
		c.log.Error(errors.Wrap(err, "Failed writing the index ETag"))
	}

	added, removed := info.Diff(names)
	if len(removed) > 0 {
		c.log.Infof("Removing the following old packages from cache: %s", strings.Join(removed, ", "))
		for _, name := range removed {
			if err = c.store.Remove(name); err != nil {
				c.log.Error(err)
			}
		}
	}
	c.log.Infof("The PyPi index server had %d packages. %d were new. %d were old and were deleted", len(info.Packages), len(added), len(removed))
	if len(added) <= maxListedNew {
		c.log.Info("New packages:")
		for _, name := range added {
			c.log.Infof(" * %s", name)
		}
	}
	span.SetAttributes(
		attribute.Int("index.packages", len(info.Packages)),
		attribute.Int("index.added", len(added)),
		attribute.Int("index.removed", len(removed)),
	)

	return nil
}

// CollectPackages looks up every package in info, at most
// settings.Concurrency at a time.
func (c *Crawler) CollectPackages(ctx context.Context, info *cache.IndexInfo) error {
	ctx, span := otel.Tracer(otelName).Start(ctx, "CollectPackages")
	defer span.End()

	var names []string
	for _, name := range info.Names() {
		if c.settings.Fast && !c.classifier.Candidate(name) {
			continue
		}
		names = append(names, name)
	}

	bar := c.newBar(int64(len(names)), "Querying package information", false)
	defer bar.Finish()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if err := c.limiter.Acquire(gctx, 1); err != nil {
			break
		}
		name, state := name, info.Packages[name]
		g.Go(func() error {
			defer c.limiter.Release(1)
			defer bar.Add(1)
			c.fetchPackage(gctx, name, state)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int64("packages.processed", c.processed.Load()))
	return ctx.Err()
}

// fetchPackage refreshes a single package. Every outcome is recorded in
// state and the store; nothing here fails the crawl.
func (c *Crawler) fetchPackage(ctx context.Context, name string, state *cache.PackageState) {
	plog := c.log.WithField("pypi_package", name)

	remove := func() {
		if err := c.store.Remove(name); err != nil {
			plog.Error(err)
		}
	}

	if state.NotFound {
		plog.Debugf("Skipping %s known to throw 404", name)
		remove()
		return
	}

	plog.Debugf("Querying info for %s", name)
	resp, err := c.pypiClient.FetchPackage(ctx, name, state.ETag)
	c.processed.Add(1)
	if err != nil {
		var herr statusCoder
		switch {
		case errors.Is(err, pypi.ErrEmptyResponse):
			plog.Warnf("Failed to get JSON data back for %s", name)
			state.ETag = ""
			remove()
		case errors.As(err, &herr):
			if herr.StatusCode() == http.StatusNotFound {
				state.NotFound = true
			}
			plog.Warnf("Failed to query info for %s. Status code: %d", name, herr.StatusCode())
			state.ETag = ""
			remove()
		default:
			// Network trouble or a timeout, try again next run with what we
			// already know.
			plog.Warnf("Failed to query info for %s: %s", name, err)
		}
		return
	}

	if resp.NotModified {
		plog.Debugf("No changes for %s", name)
		return
	}

	state.ETag = resp.ETag

	reason := c.classifier.Classify(name, resp.Package.Info)
	switch reason {
	case extensions.Known:
		plog.Infof("%s is a known salt-extension", name)
	case extensions.ByName:
		plog.Infof("%s was detected as a salt-extension from its name", name)
	case extensions.ByKeywords:
		plog.Infof("%s was detected as a salt-extension because of its keywords", name)
	default:
		remove()
		return
	}

	if err = c.store.Write(name, resp.Raw); err != nil {
		plog.Error(err)
		// forget the ETag so the document is fetched again
		state.ETag = ""
	}
}

// statusCoder matches restutils.HTTPError.
type statusCoder interface {
	StatusCode() int
}

// difference returns the names in a that are not in b, sorted.
func difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, name := range b {
		in[name] = struct{}{}
	}
	var out []string
	for _, name := range a {
		if _, ok := in[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
