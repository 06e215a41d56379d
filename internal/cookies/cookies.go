// Package cookies discovers Chromium browser profiles carrying session
// cookies and rotates between them so repeated downloads do not hammer one
// identity.
package cookies

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"reel/internal/platform"
)

// maxProfiles bounds the numbered profile directories scanned under the
// cookies dir (chromium_data_1 .. chromium_data_5).
const maxProfiles = 5

// Profile is one discovered Chromium user-data directory with a non-empty
// cookie database.
type Profile struct {
	// Dir is the user-data directory handed to yt-dlp.
	Dir string
	// CookiesDB is the SQLite cookie database inside the profile.
	CookiesDB string
}

// BrowserSpec renders the profile as a yt-dlp --cookies-from-browser value.
func (p Profile) BrowserSpec() string {
	return "chromium:" + filepath.Join(p.Dir, "chromium")
}

// Jar rotates through discovered profiles round-robin.
type Jar struct {
	mu       sync.Mutex
	profiles []Profile
	next     int
}

// Discover scans dir for numbered Chromium profile directories that contain a
// non-empty cookie database. An empty result is not an error; downloads then
// run without browser cookies.
func Discover(dir string) (*Jar, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return &Jar{}, nil
	}

	var profiles []Profile
	for i := 1; i <= maxProfiles; i++ {
		profileDir := filepath.Join(dir, fmt.Sprintf("chromium_data_%d", i))
		db, ok := cookieDBPath(profileDir)
		if !ok {
			continue
		}
		profiles = append(profiles, Profile{Dir: profileDir, CookiesDB: db})
	}
	return &Jar{profiles: profiles}, nil
}

// cookieDBPath locates the cookie database within a profile directory,
// checking the nested chromium layout first.
func cookieDBPath(profileDir string) (string, bool) {
	candidates := []string{
		filepath.Join(profileDir, "chromium", "Default", "Cookies"),
		filepath.Join(profileDir, "Default", "Cookies"),
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() && info.Size() > 0 {
			return candidate, true
		}
	}
	return "", false
}

// Len returns the number of usable profiles.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.profiles)
}

// Next returns the next profile in rotation. ok is false when no profile was
// discovered.
func (j *Jar) Next() (Profile, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.profiles) == 0 {
		return Profile{}, false
	}
	profile := j.profiles[j.next]
	j.next = (j.next + 1) % len(j.profiles)
	return profile, true
}

// HasServiceCookies reports whether any profile carries cookies for the given
// service, probing each cookie database read-only.
func (j *Jar) HasServiceCookies(ctx context.Context, service platform.Service) bool {
	j.mu.Lock()
	profiles := make([]Profile, len(j.profiles))
	copy(profiles, j.profiles)
	j.mu.Unlock()

	host := serviceHost(service)
	if host == "" {
		return false
	}
	for _, profile := range profiles {
		if probeHost(ctx, profile.CookiesDB, host) {
			return true
		}
	}
	return false
}

func serviceHost(service platform.Service) string {
	switch service {
	case platform.YouTube:
		return "%youtube.com%"
	case platform.TikTok:
		return "%tiktok.com%"
	default:
		return ""
	}
}

// probeHost opens the Chromium cookie database read-only and checks for any
// cookie row matching the host pattern. Failures (locked db, schema drift)
// count as no cookies.
func probeHost(ctx context.Context, dbPath, hostPattern string) bool {
	dsn := fmt.Sprintf("file:%s?mode=ro&_time_format=sqlite", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return false
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, `SELECT last_access_utc FROM cookies WHERE host_key LIKE ? LIMIT 1`, hostPattern)
	var lastAccess int64
	return row.Scan(&lastAccess) == nil
}
