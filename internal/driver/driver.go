// Package driver sequences the five extraction stages against a single
// temp directory, owning progress reporting and error-to-exit-status
// translation (spec.md §4.5).
package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/c3lang/macsdkfetch/internal/cpioarc"
	"github.com/c3lang/macsdkfetch/internal/dmgextract"
	"github.com/c3lang/macsdkfetch/internal/fsutil"
	"github.com/c3lang/macsdkfetch/internal/pbzx"
	"github.com/c3lang/macsdkfetch/internal/pipeline"
	"github.com/c3lang/macsdkfetch/internal/progress"
	"github.com/c3lang/macsdkfetch/internal/sdkfinal"
	"github.com/c3lang/macsdkfetch/internal/xarfmt"
)

// milestone percentages from spec.md §4.5.
const (
	milestoneStart     = 0
	milestoneDmgDone   = 10
	milestoneXarDone   = 20
	milestonePbzxDone  = 75
	milestoneSdkDone   = 98
	milestoneFinalDone = 100
)

// Options configures a Driver run. CacheRoot and SevenZipPath, when
// empty, fall back to sdkfinal.CacheRoot's discovery order and the bare
// "7z" binary name respectively.
type Options struct {
	DmgPath      string
	CacheRoot    string
	SevenZipPath string
	Logger       *pipeline.Logger
	Bar          *progress.Bar
}

// Driver sequences the DMG, XAR, PBZX, CPIO, and SDK-finalizer stages
// against a single temp directory, reporting progress at the fixed
// milestones spec.md §4.5 names and cleaning up on both success and
// failure.
type Driver struct {
	opts Options
}

// NewDriver constructs a Driver for a single extraction run.
func NewDriver(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = pipeline.NewLogger(0)
	}
	return &Driver{opts: opts}
}

// Run executes all five stages in order. On any stage failure it tears
// down the temp directory and returns the underlying *pipeline.Error.
func (d *Driver) Run() (err error) {
	const op = "driver.Driver.Run"

	log := d.opts.Logger
	bar := d.opts.Bar

	tmpDir, err := fsutil.MakeTempDir("macsdkfetch-")
	if err != nil {
		return pipeline.Wrap(pipeline.KindIoWrite, op, err)
	}
	defer func() {
		if rmErr := fsutil.RemoveTree(tmpDir); rmErr != nil && err == nil {
			log.Warn(fmt.Sprintf("failed to remove temp directory %s: %v", tmpDir, rmErr))
		}
	}()

	if !fsutil.Exists(d.opts.DmgPath) {
		return pipeline.Newf(pipeline.KindInputMissing, op, "no such file: %s", d.opts.DmgPath)
	}

	setBar := func(pct float64) {
		if bar != nil {
			bar.Set(pct)
		}
	}
	setBar(milestoneStart)

	// Stage 1: DMG -> PKG
	log.Step("Extracting installer package from %s", filepath.Base(d.opts.DmgPath))
	pkgPath, err := dmgextract.ExtractPKG(d.opts.DmgPath, tmpDir, dmgextract.Options{SevenZipPath: d.opts.SevenZipPath})
	if err != nil {
		return err
	}
	setBar(milestoneDmgDone)

	// Stage 2: PKG (XAR) -> Payload + metadata tree
	log.Step("Unpacking installer package")
	pkgExtractDir := filepath.Join(tmpDir, "pkg")
	xarRange := progress.Range(milestoneDmgDone, milestoneXarDone)
	if err := xarfmt.Extract(pkgPath, pkgExtractDir, func(done, total int64) {
		setBar(xarRange(done, total))
	}); err != nil {
		return err
	}
	setBar(milestoneXarDone)

	// Stage 3 + 4: every embedded Payload (PBZX of CPIO) is unpacked into
	// a shared output tree; a CLT .pkg can ship more than one Payload,
	// e.g. one per bundled component.
	payloadPaths, err := findPayloads(pkgExtractDir)
	if err != nil {
		return pipeline.Wrap(pipeline.KindInputMissing, op, err)
	}
	if len(payloadPaths) == 0 {
		return pipeline.Newf(pipeline.KindInputMissing, op, "no Payload file found under %s", pkgExtractDir)
	}

	sdkRoot := filepath.Join(tmpDir, "out")
	n := len(payloadPaths)
	for i, payloadPath := range payloadPaths {
		log.Step("Unpacking payload %d/%d", i+1, n)
		segStart := milestoneXarDone + float64(i)/float64(n)*(milestonePbzxDone-milestoneXarDone)
		segEnd := milestoneXarDone + float64(i+1)/float64(n)*(milestonePbzxDone-milestoneXarDone)
		segRange := progress.Range(segStart, segEnd)
		if err := extractPayload(payloadPath, sdkRoot, log, func(done, total int64) {
			setBar(segRange(done, total))
		}); err != nil {
			return err
		}
	}
	setBar(milestonePbzxDone)

	// Stage 5: SDK finalizer
	log.Step("Installing SDKs to cache")
	cacheRoot := sdkfinal.CacheRoot(d.opts.CacheRoot)
	cltRoot := filepath.Join(sdkRoot, "Library", "Developer", "CommandLineTools")
	finalRange := progress.Range(milestonePbzxDone, milestoneSdkDone)
	if err := sdkfinal.Finalize(cltRoot, cacheRoot, func(done, total int) {
		setBar(finalRange(int64(done), int64(total)))
	}); err != nil {
		return err
	}
	setBar(milestoneFinalDone)
	if bar != nil {
		bar.Finish()
	}
	log.Step("Done: SDKs installed to %s", cacheRoot)

	return nil
}

// extractPayload drains one Payload file's PBZX-of-CPIO bytes into
// dstRoot, tracing each entry at verbosity 2. onProgress is driven off
// bytes consumed from the compressed Payload file itself, the same
// ftell-based approximation fetch_macossdk.c uses since the decompressed
// size isn't known up front.
func extractPayload(payloadPath, dstRoot string, log *pipeline.Logger, onProgress func(done, total int64)) error {
	const op = "driver.extractPayload"

	f, err := os.Open(payloadPath)
	if err != nil {
		return pipeline.Wrap(pipeline.KindInputMissing, op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return pipeline.Wrap(pipeline.KindInputMissing, op, err)
	}
	cr := &countingReader{r: f, total: info.Size(), onProgress: onProgress}

	demux, err := pbzx.NewDemuxer(cr)
	if err != nil {
		return pipeline.Wrap(pipeline.KindPbzxFormat, op, err)
	}

	if err := cpioarc.Extract(demux, dstRoot, func(name string) {
		log.Trace("%s", name)
	}); err != nil {
		return err
	}
	return nil
}

// countingReader reports cumulative bytes read against a known total,
// used to drive progress interpolation for a stream-oriented stage.
type countingReader struct {
	r          io.Reader
	done       int64
	total      int64
	onProgress func(done, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.done += int64(n)
	if c.onProgress != nil {
		c.onProgress(c.done, c.total)
	}
	return n, err
}

// findPayloads walks root for every file literally named "Payload", the
// CPIO-in-PBZX archive Apple installer packages carry (possibly more
// than one, for packages bundling multiple components).
func findPayloads(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == "Payload" {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
