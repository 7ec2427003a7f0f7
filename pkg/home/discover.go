package home

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
)

// platformDirs holds the per-user base directories browsers install profiles under
type platformDirs struct {
	goos         string
	home         string
	appData      string // %APPDATA% on windows
	localAppData string // %LOCALAPPDATA% on windows
}

func currentPlatformDirs() platformDirs {
	home, _ := os.UserHomeDir()
	return platformDirs{
		goos:         runtime.GOOS,
		home:         home,
		appData:      os.Getenv("APPDATA"),
		localAppData: os.Getenv("LOCALAPPDATA"),
	}
}

type chromiumBrowser struct {
	name    string
	process string
	linux   string // relative to ~/.config
	darwin  string // relative to ~/Library/Application Support
	windows string // relative to %LOCALAPPDATA%
}

var chromiumBrowsers = []chromiumBrowser{
	{name: "chrome", process: "chrome", linux: "google-chrome", darwin: "Google/Chrome", windows: "Google/Chrome/User Data"},
	{name: "chromium", process: "chromium", linux: "chromium", darwin: "Chromium", windows: "Chromium/User Data"},
	{name: "edge", process: "msedge", linux: "microsoft-edge", darwin: "Microsoft Edge", windows: "Microsoft/Edge/User Data"},
	{name: "brave", process: "brave", linux: "BraveSoftware/Brave-Browser", darwin: "BraveSoftware/Brave-Browser", windows: "BraveSoftware/Brave-Browser/User Data"},
}

// DiscoverStores finds bookmark stores in the browsers' default profile
// locations. Only stores whose file exists are returned.
func DiscoverStores() []StoreConfig {
	return discoverStores(currentPlatformDirs())
}

func discoverStores(dirs platformDirs) []StoreConfig {
	var stores []StoreConfig
	stores = append(stores, discoverFirefox(dirs)...)

	for _, b := range chromiumBrowsers {
		base := chromiumBase(dirs, b)
		if base == "" {
			continue
		}
		path := filepath.Join(base, "Default", "Bookmarks")
		if !fileExists(path) {
			continue
		}
		stores = append(stores, StoreConfig{
			Name:           b.name,
			Kind:           models.StoreKindChromium,
			Path:           path,
			OwnerProcesses: []string{b.process},
		})
	}
	return stores
}

func chromiumBase(dirs platformDirs, b chromiumBrowser) string {
	switch dirs.goos {
	case "windows":
		if dirs.localAppData == "" {
			return ""
		}
		return filepath.Join(dirs.localAppData, filepath.FromSlash(b.windows))
	case "darwin":
		return filepath.Join(dirs.home, "Library", "Application Support", filepath.FromSlash(b.darwin))
	default:
		return filepath.Join(dirs.home, ".config", filepath.FromSlash(b.linux))
	}
}

// firefoxProfilesIni returns the location of profiles.ini for the platform
func firefoxProfilesIni(dirs platformDirs) string {
	switch dirs.goos {
	case "windows":
		if dirs.appData == "" {
			return ""
		}
		return filepath.Join(dirs.appData, "Mozilla", "Firefox", "profiles.ini")
	case "darwin":
		return filepath.Join(dirs.home, "Library", "Application Support", "Firefox", "profiles.ini")
	default:
		return filepath.Join(dirs.home, ".mozilla", "firefox", "profiles.ini")
	}
}

// FirefoxProfile is one [ProfileN] section of profiles.ini
type FirefoxProfile struct {
	Name    string
	Path    string // Absolute profile directory
	Default bool
}

// ParseProfilesIni reads Firefox profile sections from a profiles.ini file.
// Relative profile paths are resolved against the file's directory.
func ParseProfilesIni(path string) ([]FirefoxProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	var profiles []FirefoxProfile
	var section string
	cur := map[string]string{}

	flush := func() {
		if strings.HasPrefix(section, "Profile") && cur["Path"] != "" {
			p := FirefoxProfile{
				Name:    cur["Name"],
				Default: cur["Default"] == "1",
			}
			dir := filepath.FromSlash(cur["Path"])
			if cur["IsRelative"] != "0" {
				dir = filepath.Join(base, dir)
			}
			p.Path = dir
			if p.Name == "" {
				p.Name = filepath.Base(dir)
			}
			profiles = append(profiles, p)
		}
		cur = map[string]string{}
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			section = line[1 : len(line)-1]
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cur[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Default profile first, then by name
	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].Default != profiles[j].Default {
			return profiles[i].Default
		}
		return profiles[i].Name < profiles[j].Name
	})
	return profiles, nil
}

func discoverFirefox(dirs platformDirs) []StoreConfig {
	ini := firefoxProfilesIni(dirs)
	if ini == "" {
		return nil
	}
	profiles, err := ParseProfilesIni(ini)
	if err != nil {
		return nil
	}

	var stores []StoreConfig
	for _, p := range profiles {
		places := filepath.Join(p.Path, "places.sqlite")
		if !fileExists(places) {
			continue
		}
		name := "firefox"
		if len(stores) > 0 {
			name = "firefox-" + sanitizeName(p.Name)
		}
		stores = append(stores, StoreConfig{
			Name:           name,
			Kind:           models.StoreKindPlaces,
			Path:           places,
			OwnerProcesses: []string{"firefox"},
		})
	}
	return stores
}

func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
