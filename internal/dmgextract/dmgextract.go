// Package dmgextract delegates DMG decoding to an external 7z-compatible
// binary, the one stage spec.md §1 explicitly keeps out of the core
// decoder (DMG image parsing has no pure-Go implementation worth
// hand-rolling and every platform already ships or can fetch a 7z
// build).
package dmgextract

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/c3lang/macsdkfetch/internal/pipeline"
)

// pkgGlob is the path, relative to the DMG root, that 7z's "l"/"e"
// listing glob matches against to find the inner installer package.
const pkgGlob = "Command Line Developer Tools/Command Line Tools*.pkg"

// Options configures how the external extractor is invoked.
type Options struct {
	// SevenZipPath is the path to (or bare name of) the 7z-compatible
	// binary. Defaults to "7z" when empty.
	SevenZipPath string
}

// ExtractPKG runs `7z e <dmgPath> <pkgGlob> -so` and streams the matched
// .pkg entry's bytes into a freshly created temp file, returning its
// path. The caller owns cleanup of the returned file.
func ExtractPKG(dmgPath, tmpDir string, opts Options) (string, error) {
	const op = "dmgextract.ExtractPKG"

	bin := opts.SevenZipPath
	if bin == "" {
		bin = "7z"
	}

	out, err := os.CreateTemp(tmpDir, "clt-*.pkg")
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindIoWrite, op, err)
	}
	outPath := out.Name()

	cmd := exec.Command(bin, "e", dmgPath, pkgGlob, "-so")
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	closeErr := out.Close()

	if runErr != nil {
		os.Remove(outPath)
		if _, ok := runErr.(*exec.Error); ok {
			return "", pipeline.Newf(pipeline.KindDmgExtractFailed, op, "ensure 7z is installed: %v", runErr)
		}
		return "", pipeline.Newf(pipeline.KindDmgExtractFailed, op, "7z exited with error: %v: %s", runErr, stderr.String())
	}
	if closeErr != nil {
		os.Remove(outPath)
		return "", pipeline.Wrap(pipeline.KindIoWrite, op, closeErr)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindDmgExtractFailed, op, err)
	}
	if info.Size() == 0 {
		os.Remove(outPath)
		return "", pipeline.Newf(pipeline.KindDmgExtractFailed, op, "no file matched %q inside %s", pkgGlob, filepath.Base(dmgPath))
	}

	return outPath, nil
}
