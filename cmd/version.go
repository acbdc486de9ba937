package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var checkFlag bool

const githubReleasesAPI = "https://api.github.com/repos/zjrosen/timeline/releases/latest"

// httpClient is the HTTP client used to fetch release info.
// It can be overridden in tests.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// getVersion returns the current version of timeline.
// It can be overridden in tests.
var getVersion = func() string {
	return version
}

// githubRelease represents the GitHub API response for a release.
type githubRelease struct {
	TagName string `json:"tag_name"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the timeline version",
	Long: `Print the timeline version. With --check, also report whether a newer
release is available.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&checkFlag, "check", false, "check for a newer release")
}

func runVersion(cmd *cobra.Command, args []string) error {
	current := getVersion()
	printInfo("timeline " + current)
	if !checkFlag {
		return nil
	}

	latest, err := fetchLatestRelease()
	if err != nil {
		return fmt.Errorf("checking latest release: %w", err)
	}
	if isAlreadyLatest(current, latest) {
		printInfo("Up to date")
	} else {
		printInfo(fmt.Sprintf("A newer release is available: %s", latest))
	}
	return nil
}

// fetchLatestRelease fetches the latest release tag from GitHub.
func fetchLatestRelease() (string, error) {
	resp, err := httpClient.Get(githubReleasesAPI)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decoding release: %w", err)
	}
	return release.TagName, nil
}

// isAlreadyLatest reports whether current is the latest release. Build
// suffixes like "-6-gaa951141-dirty" are ignored; "dev" never matches.
func isAlreadyLatest(current, latest string) bool {
	base := func(v string) string {
		v = strings.TrimPrefix(v, "v")
		if i := strings.Index(v, "-"); i != -1 {
			v = v[:i]
		}
		return v
	}
	return base(current) == base(latest)
}
