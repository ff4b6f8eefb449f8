package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/rhysd/go-github-selfupdate/selfupdate"
)

const updateRepo = "Fepozopo/autocrop"

// releasesURL is a variable so tests can point it at a local server.
var releasesURL = "https://api.github.com/repos/" + updateRepo + "/releases"

var semverRe = regexp.MustCompile(`v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?`)

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	Assets     []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// detectLatest queries the GitHub releases API and returns the highest
// published, non-prerelease version whose tag or name contains a semver.
// It returns (nil, nil) when no release qualifies.
func detectLatest(url string) (*selfupdate.Release, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("github API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading github response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned status %d: %s", resp.StatusCode, string(body))
	}

	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("failed to decode github releases: %w", err)
	}

	var best *selfupdate.Release
	for _, r := range releases {
		if r.Draft || r.Prerelease {
			continue
		}
		match := semverRe.FindString(r.TagName)
		if match == "" {
			match = semverRe.FindString(r.Name)
		}
		if match == "" {
			continue
		}
		v, err := semver.ParseTolerant(match)
		if err != nil {
			continue
		}
		if best != nil && !v.GT(best.Version) {
			continue
		}
		best = &selfupdate.Release{Version: v, AssetURL: pickAsset(r), Name: r.Name}
	}
	return best, nil
}

// pickAsset prefers an asset built for this platform, then any asset.
func pickAsset(r githubRelease) string {
	names := make([]string, 0, len(r.Assets))
	urls := map[string]string{}
	for _, a := range r.Assets {
		names = append(names, a.Name)
		urls[a.Name] = a.BrowserDownloadURL
	}
	sort.Strings(names)
	for _, n := range names {
		l := strings.ToLower(n)
		if strings.Contains(l, runtime.GOOS) && strings.Contains(l, runtime.GOARCH) {
			return urls[n]
		}
	}
	if len(names) > 0 {
		return urls[names[0]]
	}
	return ""
}

// CheckForUpdates reports the latest release and, after confirmation on
// stdin, replaces the running executable with it.
func CheckForUpdates(w io.Writer) error {
	fmt.Fprintf(w, "Current version: %s\n", Version)
	latest, err := detectLatest(releasesURL)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if latest == nil {
		fmt.Fprintf(w, "No releases found for %s.\n", updateRepo)
		return nil
	}
	fmt.Fprintf(w, "Latest version: %s\n", latest.Version)

	current, perr := semver.ParseTolerant(Version)
	if perr != nil {
		fmt.Fprintf(w, "warning: could not parse current version %q: %v\n", Version, perr)
	} else if !latest.Version.GT(current) {
		fmt.Fprintf(w, "You are already running the latest version: %s.\n", current)
		return nil
	}

	if latest.AssetURL == "" {
		fmt.Fprintf(w, "A new version (%s) is available but there is no downloadable asset.\n", latest.Version)
		return nil
	}

	answer, err := promptLine(w, fmt.Sprintf("A new version (%s) is available. Update now? (y/N): ", latest.Version))
	if err != nil {
		return fmt.Errorf("failed reading input: %w", err)
	}
	if !parseBool(answer) {
		fmt.Fprintln(w, "Update cancelled.")
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not locate executable: %w", err)
	}
	fmt.Fprintln(w, "Updating...")
	if err := selfupdate.UpdateTo(latest.AssetURL, exe); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Fprintf(w, "Updated to version %s.\n", latest.Version)
	return nil
}

// promptLine prints prompt and reads one line from stdin.
func promptLine(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
