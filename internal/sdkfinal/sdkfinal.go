// Package sdkfinal locates the .sdk directories inside an unpacked
// Command Line Tools payload and installs them into the per-user cache
// (spec.md §4.4), and also implements the compiler-side SDK discovery
// spec.md §6 describes in prose.
package sdkfinal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/c3lang/macsdkfetch/internal/fsutil"
	"github.com/c3lang/macsdkfetch/internal/pipeline"
)

const cacheSubdir = "c3/macos_sdk"

// CacheRoot discovers the output cache directory, following the lookup
// order from spec.md §4.4: platform-cache environment variable, then
// $HOME/.cache/c3/macos_sdk, then a macos_sdk directory beside the
// running executable. override, if non-empty, always wins (it's what an
// explicit config value or flag provides).
func CacheRoot(override string) string {
	if override != "" {
		return override
	}

	var envVar string
	if runtime.GOOS == "windows" {
		envVar = "LOCALAPPDATA"
	} else {
		envVar = "XDG_CACHE_HOME"
	}
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, filepath.FromSlash(cacheSubdir))
	}

	if runtime.GOOS != "windows" {
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".cache", filepath.FromSlash(cacheSubdir))
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return filepath.Join(".", "macos_sdk")
	}
	return filepath.Join(filepath.Dir(exe), "macos_sdk")
}

// ProgressFunc is called with a running entry count and the precomputed
// total, the same interpolation copy_dir_recursive uses to scale a
// [start,end) percent range.
type ProgressFunc func(done, total int)

// Finalize locates every SDKs/*.sdk entry under cltRoot (the unpacked
// .../Library/Developer/CommandLineTools directory) and installs it into
// cacheRoot, merging libc++ headers where the SDK lacks them.
func Finalize(cltRoot, cacheRoot string, onProgress ProgressFunc) error {
	const op = "sdkfinal.Finalize"

	sdksDir := filepath.Join(cltRoot, "SDKs")
	entries, err := os.ReadDir(sdksDir)
	if err != nil {
		return pipeline.Wrap(pipeline.KindSdkMissing, op, err)
	}

	var sdkNames []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sdk") {
			sdkNames = append(sdkNames, e.Name())
		}
	}
	if len(sdkNames) == 0 {
		return pipeline.Newf(pipeline.KindSdkMissing, op, "no .sdk directory under %s", sdksDir)
	}

	total := fsutil.CountEntries(cltRoot)
	done := 0
	tick := func() {
		done++
		if onProgress != nil {
			onProgress(done, total)
		}
	}

	if err := fsutil.MkdirAll(cacheRoot); err != nil {
		return pipeline.Wrap(pipeline.KindIoWrite, op, err)
	}

	libcxxSrc := filepath.Join(cltRoot, "usr", "include", "c++", "v1")
	for _, name := range sdkNames {
		src := filepath.Join(sdksDir, name)
		dst := filepath.Join(cacheRoot, name)

		if err := fsutil.RemoveTree(dst); err != nil {
			return pipeline.Wrap(pipeline.KindIoWrite, op, err)
		}

		isLink, err := fsutil.IsSymlinkRaw(src)
		if err != nil {
			return pipeline.Wrap(pipeline.KindIoWrite, op, err)
		}
		switch {
		case isLink:
			target, err := os.Readlink(src)
			if err != nil {
				return pipeline.Wrap(pipeline.KindIoWrite, op, err)
			}
			if err := fsutil.ReplaySymlink(target, dst); err != nil {
				return pipeline.Wrap(pipeline.KindIoWrite, op, err)
			}
			tick()
			continue
		default:
			if err := fsutil.CopyTree(src, dst, tick); err != nil {
				return pipeline.Wrap(pipeline.KindIoWrite, op, err)
			}
		}

		if err := mergeLibCXX(libcxxSrc, dst, tick); err != nil {
			return pipeline.Wrap(pipeline.KindIoWrite, op, err)
		}
	}

	return nil
}

// mergeLibCXX copies clt_root/usr/include/c++/v1 into the SDK if the SDK
// doesn't already carry its own (detected by the absence of the
// "version" header), the way fetch_macossdk.c's final merge step does.
func mergeLibCXX(libcxxSrc, sdkDst string, onEntry func()) error {
	if !fsutil.IsDir(libcxxSrc) {
		return nil
	}
	sdkLibcxx := filepath.Join(sdkDst, "usr", "include", "c++", "v1")
	if fsutil.Exists(filepath.Join(sdkLibcxx, "version")) {
		return nil
	}
	if err := fsutil.MkdirAll(sdkLibcxx); err != nil {
		return err
	}
	return fsutil.CopyTree(libcxxSrc, sdkLibcxx, onEntry)
}

// Version is a major.minor deployment target version, as found in
// SDKSettings.json.
type Version struct {
	Major int
	Minor int
}

func parseVersion(s string) (Version, error) {
	parts := strings.SplitN(s, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, err
	}
	minor := 0
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(strings.SplitN(parts[1], ".", 2)[0]); err != nil {
			return Version{}, err
		}
	}
	return Version{Major: major, Minor: minor}, nil
}

type sdkSettings struct {
	SupportedTargets struct {
		MacOSX struct {
			DefaultDeploymentTarget string `json:"DefaultDeploymentTarget"`
			MinimumDeploymentTarget string `json:"MinimumDeploymentTarget"`
		} `json:"macosx"`
	} `json:"SupportedTargets"`
}

// DeploymentTargets reads sdkPath/SDKSettings.json and returns its
// minimum and default macOS deployment targets.
func DeploymentTargets(sdkPath string) (min, def Version, err error) {
	const op = "sdkfinal.DeploymentTargets"

	data, err := os.ReadFile(filepath.Join(sdkPath, "SDKSettings.json"))
	if err != nil {
		return Version{}, Version{}, pipeline.Wrap(pipeline.KindSdkMissing, op, err)
	}
	var settings sdkSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Version{}, Version{}, pipeline.Wrap(pipeline.KindSdkMissing, op, err)
	}
	if min, err = parseVersion(settings.SupportedTargets.MacOSX.MinimumDeploymentTarget); err != nil {
		return Version{}, Version{}, pipeline.Wrap(pipeline.KindSdkMissing, op, err)
	}
	if def, err = parseVersion(settings.SupportedTargets.MacOSX.DefaultDeploymentTarget); err != nil {
		return Version{}, Version{}, pipeline.Wrap(pipeline.KindSdkMissing, op, err)
	}
	return min, def, nil
}

// darwinSysroots are the hardcoded macOS-host search paths from
// spec.md §6.
var darwinSysroots = []string{
	"/Applications/Xcode.app/Contents/Developer/Platforms/MacOSX.platform/Developer/SDKs/MacOSX.sdk",
	"/Library/Developer/CommandLineTools/SDKs/MacOSX.sdk",
}

// Discover finds the SDK a cross-compiler should use: on a Darwin host,
// the first hardcoded Xcode/CLT sysroot that exists; on any other host,
// or on a Darwin host where none of those exists, the lexicographically
// largest ".sdk" entry under cacheRoot.
func Discover(hostIsDarwin bool, cacheRoot string) (string, error) {
	const op = "sdkfinal.Discover"

	if hostIsDarwin {
		for _, p := range darwinSysroots {
			if fsutil.IsDir(p) {
				return p, nil
			}
		}
	}

	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		return "", pipeline.Wrap(pipeline.KindSdkMissing, op, err)
	}
	var names []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".sdk") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", pipeline.Newf(pipeline.KindSdkMissing, op, "no cached SDK under %s", cacheRoot)
	}
	sort.Strings(names)
	return filepath.Join(cacheRoot, names[len(names)-1]), nil
}
