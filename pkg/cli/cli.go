package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/Fepozopo/autocrop/pkg/jfif"
	"github.com/Fepozopo/autocrop/pkg/stdimg"
)

// Version information, set by ldflags during release builds.
var (
	Version   = "0.0.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var errNoFiles = errors.New("no input files provided")

// Status classifies the outcome of processing one file.
type Status int

const (
	StatusCropped Status = iota
	StatusDryRun
	StatusNoContent
	StatusUnsupported
	StatusLoadFailed
	StatusCropFailed
	StatusWriteFailed
)

func (s Status) String() string {
	switch s {
	case StatusCropped:
		return "cropped"
	case StatusDryRun:
		return "dry-run"
	case StatusNoContent:
		return "no content"
	case StatusUnsupported:
		return "unsupported"
	case StatusLoadFailed:
		return "load failed"
	case StatusCropFailed:
		return "crop failed"
	case StatusWriteFailed:
		return "write failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result describes what happened to one file.
type Result struct {
	Path   string
	Status Status
	Err    error

	Width, Height int
	Box           stdimg.Box

	// Density is set when the original JPEG carried a JFIF header.
	Density *jfif.Density
	// DensityErr is set when the density could not be patched back into the
	// rewritten file. The crop itself is kept.
	DensityErr error
}

// ProcessFile crops one image in place. Failures are reported in the Result;
// they never affect other files.
func ProcessFile(path string, cfg Config) Result {
	res := Result{Path: path}

	format, err := FormatFromPath(path)
	if err != nil {
		res.Status, res.Err = StatusUnsupported, err
		return res
	}

	// read before anything rewrites the file
	if format == imaging.JPEG {
		d, derr := jfif.ReadFile(path)
		switch {
		case derr == nil:
			res.Density = &d
			debugf("%s: density %s", path, d)
		case errors.Is(derr, jfif.ErrNotJFIF):
			debugf("%s: no JFIF header", path)
		default:
			debugf("%s: read density: %v", path, derr)
		}
	}

	src, err := LoadImage(path)
	if err != nil {
		res.Status, res.Err = StatusLoadFailed, err
		return res
	}
	res.Width, res.Height = src.Width, src.Height

	out, box, err := stdimg.Trim(src, cfg.Threshold)
	res.Box = box
	if err != nil {
		if errors.Is(err, stdimg.ErrNoContent) {
			res.Status = StatusNoContent
		} else {
			res.Status, res.Err = StatusCropFailed, err
		}
		return res
	}
	debugf("%s: box %s at threshold %d", path, box, cfg.Threshold)

	if cfg.DryRun {
		res.Status = StatusDryRun
		return res
	}

	if err := SaveImage(path, out, cfg.JPEGQuality); err != nil {
		res.Status, res.Err = StatusWriteFailed, err
		return res
	}
	res.Status = StatusCropped

	if res.Density != nil {
		res.DensityErr = jfif.WriteFile(path, *res.Density)
	}
	return res
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: autocrop [-t threshold] [-q quality] [-j jobs] [-n] [-v] <image1> [<image2> ...]")
	fmt.Fprintln(w, "       autocrop version | update | help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Crops PNG and JPEG files in place to the smallest rectangle holding every")
	fmt.Fprintln(w, "pixel darker than the threshold. JPEG density (DPI) is preserved.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -t threshold  gray level 0-255 below which a pixel is content (default 75)")
	fmt.Fprintln(w, "  -q quality    JPEG quality 1-100 (default 90)")
	fmt.Fprintln(w, "  -j jobs       number of files processed concurrently (default 1)")
	fmt.Fprintln(w, "  -n            dry run: report boxes, write nothing")
	fmt.Fprintln(w, "  -v            print the box found for every file")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment (also read from .env):")
	fmt.Fprintf(w, "  %s, %s, %s, %s=1\n", EnvThreshold, EnvJPEGQuality, EnvJobs, EnvDebug)
}

// parseArgs applies command-line options on top of cfg and returns the files.
func parseArgs(args []string, cfg Config) (Config, []string, error) {
	fs := flag.NewFlagSet("autocrop", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	threshold := fs.String("t", "", "threshold")
	quality := fs.Int("q", cfg.JPEGQuality, "JPEG quality")
	jobs := fs.Int("j", cfg.Jobs, "jobs")
	fs.BoolVar(&cfg.DryRun, "n", cfg.DryRun, "dry run")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose")
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	if *threshold != "" {
		t, err := parseThreshold(*threshold)
		if err != nil {
			return cfg, nil, err
		}
		cfg.Threshold = t
	}
	if err := checkQuality(*quality); err != nil {
		return cfg, nil, err
	}
	cfg.JPEGQuality = *quality
	if err := checkJobs(*jobs); err != nil {
		return cfg, nil, err
	}
	cfg.Jobs = *jobs

	files := fs.Args()
	if len(files) == 0 {
		return cfg, nil, errNoFiles
	}
	return cfg, files, nil
}

// Run executes the command line and returns the process exit code. A batch
// always exits 0; only usage errors return 1.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stdout)
		return 1
	}
	switch args[0] {
	case "version", "--version":
		fmt.Fprintf(stdout, "autocrop %s\n", Version)
		fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
		return 0
	case "help", "--help", "-h":
		usage(stdout)
		return 0
	case "update":
		if err := CheckForUpdates(stdout); err != nil {
			fmt.Fprintf(stderr, "update check error: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, files, err := parseArgs(args, LoadConfig())
	if errors.Is(err, flag.ErrHelp) {
		usage(stdout)
		return 0
	}
	if err != nil {
		if errors.Is(err, errNoFiles) {
			fmt.Fprintln(stderr, "No input files provided.")
		} else {
			fmt.Fprintln(stderr, err)
		}
		var te *thresholdError
		if !errors.As(err, &te) {
			usage(stderr)
		}
		return 1
	}
	debugf("threshold=%d quality=%d jobs=%d dry-run=%t", cfg.Threshold, cfg.JPEGQuality, cfg.Jobs, cfg.DryRun)

	var mu sync.Mutex
	report := func(res Result) {
		mu.Lock()
		defer mu.Unlock()
		reportResult(stdout, stderr, res, cfg)
	}
	runBatch(files, cfg, report)
	return 0
}

// runBatch processes files with cfg.Jobs workers. Each file stays on a single
// worker from density read to density patch.
func runBatch(files []string, cfg Config, report func(Result)) {
	jobs := cfg.Jobs
	if jobs > len(files) {
		jobs = len(files)
	}
	if jobs <= 1 {
		for _, f := range files {
			report(ProcessFile(f, cfg))
		}
		return
	}

	paths := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range paths {
				report(ProcessFile(p, cfg))
			}
		}()
	}
	for _, f := range files {
		paths <- f
	}
	close(paths)
	wg.Wait()
}

func reportResult(stdout, stderr io.Writer, res Result, cfg Config) {
	switch res.Status {
	case StatusUnsupported:
		fmt.Fprintf(stderr, "Unsupported file extension for: %s\n", res.Path)
	case StatusLoadFailed:
		fmt.Fprintf(stderr, "Failed to load image: %s\n", res.Path)
		debugf("%v", res.Err)
	case StatusNoContent:
		fmt.Fprintf(stderr, "No content found to crop in: %s\n", res.Path)
	case StatusCropFailed:
		fmt.Fprintf(stderr, "Failed to crop image: %s: %v\n", res.Path, res.Err)
	case StatusWriteFailed:
		fmt.Fprintf(stderr, "Failed to write cropped image: %s\n", res.Path)
		debugf("%v", res.Err)
	case StatusCropped, StatusDryRun:
		if cfg.Verbose || res.Status == StatusDryRun {
			fmt.Fprintf(stdout, "%s: %dx%d -> %dx%d, box %s%s\n",
				res.Path, res.Width, res.Height, res.Box.Dx(), res.Box.Dy(), res.Box, densityNote(res))
		}
		if res.DensityErr != nil {
			fmt.Fprintf(stderr, "Could not restore density for %s: %v\n", res.Path, res.DensityErr)
		}
	}
}

func densityNote(res Result) string {
	if res.Density == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(", density ")
	sb.WriteString(res.Density.String())
	if res.Status == StatusCropped && res.DensityErr == nil {
		sb.WriteString(" kept")
	}
	return sb.String()
}

// RunCLI runs the command line from os.Args and exits.
func RunCLI() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}
