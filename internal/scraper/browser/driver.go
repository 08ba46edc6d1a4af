package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/rizkirmdhn/beasiswa/internal/common/config"
)

// ErrDriverNotFound means no usable browser binary was found
var ErrDriverNotFound = errors.New("browser driver not found")

// DriverStrategy resolves the browser executable the session will launch
type DriverStrategy interface {
	Name() string
	// Resolve returns the absolute path of the browser executable
	Resolve() (string, error)
}

// SystemDriver uses a browser pre-installed at a known path, as on deployment hosts
type SystemDriver struct {
	Path string
}

func (d SystemDriver) Name() string { return "system" }

func (d SystemDriver) Resolve() (string, error) {
	if d.Path == "" {
		return "", fmt.Errorf("%w: no system path configured", ErrDriverNotFound)
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDriverNotFound, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrDriverNotFound, d.Path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", ErrDriverNotFound, d.Path)
	}
	return d.Path, nil
}

// LookupDriver searches the host for a matching Chrome or Chromium installation at runtime
type LookupDriver struct {
	// Candidates are executable names or absolute paths, tried in order
	Candidates []string
}

// DefaultCandidates returns the browser locations worth trying on goos
func DefaultCandidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"google-chrome",
			"chromium",
		}
	case "windows":
		return []string{
			"chrome",
			"chrome.exe",
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"headless-shell",
			"chromium",
			"chromium-browser",
			"google-chrome",
			"google-chrome-stable",
		}
	}
}

func (d LookupDriver) Name() string { return "lookup" }

func (d LookupDriver) Resolve() (string, error) {
	candidates := d.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates(runtime.GOOS)
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrDriverNotFound, candidates)
}

// SelectStrategy picks how to find the browser. It runs once at startup with runtime.GOOS.
func SelectStrategy(goos string, cfg *config.ScraperConfig) DriverStrategy {
	switch cfg.Driver {
	case config.DriverSystem:
		return SystemDriver{Path: cfg.DriverPath}
	case config.DriverLookup:
		return LookupDriver{Candidates: DefaultCandidates(goos)}
	}
	if goos == "linux" {
		return SystemDriver{Path: cfg.DriverPath}
	}
	return LookupDriver{Candidates: DefaultCandidates(goos)}
}
