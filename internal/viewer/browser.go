package viewer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// execCommand creates the opener process. It can be overridden in tests.
var execCommand = exec.Command

// OpenBrowser attempts to open the given URL in the default browser.
// Returns an error if it fails, allowing the caller to fall back to
// printing the URL to the terminal.
func OpenBrowser(url string) error {
	// Check for BROWSER env var first (common on Linux)
	if browser := os.Getenv("BROWSER"); browser != "" {
		return execCommand(browser, url).Start() //nolint:gosec // BROWSER is user-controlled env var
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = execCommand("open", url)
	case "linux":
		cmd = execCommand("xdg-open", url)
	case "windows":
		cmd = execCommand("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
