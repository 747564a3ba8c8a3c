// Command macsdkfetch extracts a macOS SDK from an Apple Command Line
// Tools DMG into a per-user cache, so a cross-compiler toolchain running
// on a non-macOS host can locate platform headers and libraries.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ogier/pflag"

	"github.com/c3lang/macsdkfetch/internal/config"
	"github.com/c3lang/macsdkfetch/internal/driver"
	"github.com/c3lang/macsdkfetch/internal/pipeline"
	"github.com/c3lang/macsdkfetch/internal/progress"
	"github.com/c3lang/macsdkfetch/internal/sdkfinal"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("macsdkfetch", pflag.ContinueOnError)
	verbosity := flags.IntP("verbose", "v", -1, "verbosity level: 0 progress bar only, 1 per-step messages, 2 per-entry traces")
	cacheRoot := flags.StringP("cache-root", "c", "", "override the SDK cache directory")
	sevenZip := flags.StringP("7z", "z", "", "path to a 7z-compatible binary")
	configPath := flags.StringP("config", "C", defaultConfigPath(), "path to an optional TOML config file")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if flags.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <path-to-clt.dmg>\n", filepath.Base(os.Args[0]))
		return 1
	}

	cfgFile, err := config.Load(*configPath)
	if err != nil {
		pipeline.ShowError(fmt.Errorf("reading config file: %w", err))
		return 1
	}

	merged := config.Resolve(cfgFile, *cacheRoot, *sevenZip, *verbosity)

	dmgPath, err := filepath.Abs(flags.Arg(0))
	if err != nil {
		pipeline.ShowError(err)
		return 1
	}
	if resolved, err := filepath.EvalSymlinks(dmgPath); err == nil {
		dmgPath = resolved
	}

	log := pipeline.NewLogger(merged.Verbosity)
	bar := progress.NewBar(false)

	cacheDir := sdkfinal.CacheRoot(merged.CacheRoot)

	d := driver.NewDriver(driver.Options{
		DmgPath:      dmgPath,
		CacheRoot:    cacheDir,
		SevenZipPath: merged.SevenZip,
		Logger:       log,
		Bar:          bar,
	})

	if err := d.Run(); err != nil {
		pipeline.ShowError(err)
		return 1
	}
	return 0
}

// defaultConfigPath points at a per-user config file the same way
// sdkfinal.CacheRoot locates the cache, so both honor the same platform
// convention without requiring an explicit flag.
func defaultConfigPath() string {
	var envVar string
	if runtime.GOOS == "windows" {
		envVar = "LOCALAPPDATA"
	} else {
		envVar = "XDG_CONFIG_HOME"
	}
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "c3", "macsdkfetch.toml")
	}
	if runtime.GOOS != "windows" {
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "c3", "macsdkfetch.toml")
		}
	}
	return ""
}
