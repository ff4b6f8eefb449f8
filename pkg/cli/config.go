package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Fepozopo/autocrop/pkg/stdimg"
)

// Environment variables read by LoadConfig.
const (
	EnvThreshold   = "AUTOCROP_THRESHOLD"
	EnvJPEGQuality = "AUTOCROP_JPEG_QUALITY"
	EnvJobs        = "AUTOCROP_JOBS"
	EnvDebug       = "AUTOCROP_DEBUG"
)

// DefaultJPEGQuality matches the quality the cropped JPEGs were always written with.
const DefaultJPEGQuality = 90

// Config holds the settings for one batch run.
type Config struct {
	Threshold   uint8
	JPEGQuality int
	Jobs        int
	DryRun      bool
	Verbose     bool
	Debug       bool
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Threshold:   stdimg.DefaultThreshold,
		JPEGQuality: DefaultJPEGQuality,
		Jobs:        1,
	}
}

var debugEnabled bool

func debugf(format string, args ...interface{}) {
	if debugEnabled {
		fmt.Fprintf(os.Stderr, "autocrop: "+format+"\n", args...)
	}
}

// LoadConfig loads the given .env files (".env" when none are named) into the
// process environment and builds a Config from it. Missing files are not an
// error. Values that do not parse fall back to the defaults.
func LoadConfig(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "ignoring %s: %v\n", f, err)
		}
	}

	cfg := DefaultConfig()
	cfg.Debug = parseBool(os.Getenv(EnvDebug))
	debugEnabled = cfg.Debug

	if v, ok := os.LookupEnv(EnvThreshold); ok {
		if t, err := parseThreshold(v); err == nil {
			cfg.Threshold = t
		} else {
			debugf("%s: %v, using %d", EnvThreshold, err, cfg.Threshold)
		}
	}
	if v, ok := os.LookupEnv(EnvJPEGQuality); ok {
		if q, err := parseQuality(v); err == nil {
			cfg.JPEGQuality = q
		} else {
			debugf("%s: %v, using %d", EnvJPEGQuality, err, cfg.JPEGQuality)
		}
	}
	if v, ok := os.LookupEnv(EnvJobs); ok {
		if j, err := parseJobs(v); err == nil {
			cfg.Jobs = j
		} else {
			debugf("%s: %v, using %d", EnvJobs, err, cfg.Jobs)
		}
	}
	return cfg
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}

// thresholdError reports a threshold that is not an integer or lies outside 0..255.
type thresholdError struct {
	value    string
	outRange bool
}

func (e *thresholdError) Error() string {
	if e.outRange {
		return "Threshold must be between 0 and 255."
	}
	return fmt.Sprintf("Invalid threshold value: %s", e.value)
}

func parseThreshold(s string) (uint8, error) {
	t, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &thresholdError{value: s}
	}
	if t < 0 || t > 255 {
		return 0, &thresholdError{value: s, outRange: true}
	}
	return uint8(t), nil
}

func parseQuality(s string) (int, error) {
	q, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid JPEG quality: %q", s)
	}
	return q, checkQuality(q)
}

func checkQuality(q int) error {
	if q < 1 || q > 100 {
		return fmt.Errorf("JPEG quality must be between 1 and 100, got %d", q)
	}
	return nil
}

func parseJobs(s string) (int, error) {
	j, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid job count: %q", s)
	}
	return j, checkJobs(j)
}

func checkJobs(j int) error {
	if j < 1 {
		return fmt.Errorf("job count must be at least 1, got %d", j)
	}
	return nil
}
