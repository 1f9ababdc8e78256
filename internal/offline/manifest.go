package offline

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultVersion is the cache version tag. Bump it to invalidate every
// bucket on the next activation.
const DefaultVersion = "v1"

// DefaultCachePrefix is the common prefix of all bucket names.
const DefaultCachePrefix = "menuboard"

// Names are the versioned bucket names of one coordinator version.
type Names struct {
	// Generic is reserved and not used by any strategy.
	Generic string
	Static  string
	Dynamic string
}

// NewNames derives the bucket names for prefix and version.
func NewNames(prefix, version string) Names {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	if version == "" {
		version = DefaultVersion
	}
	return Names{
		Generic: fmt.Sprintf("%s-%s", prefix, version),
		Static:  fmt.Sprintf("%s-static-%s", prefix, version),
		Dynamic: fmt.Sprintf("%s-dynamic-%s", prefix, version),
	}
}

// Current reports whether name is one of the buckets used by the strategies.
func (n Names) Current(name string) bool {
	return name == n.Static || name == n.Dynamic
}

// Manifest lists the resources handled by the cache-first and network-first
// strategies.
type Manifest struct {
	// Version is the cache version tag (default: DefaultVersion).
	Version string `toml:"version"`

	// Static entries are pre-cached at install and served cache-first.
	// Root-relative entries are resolved against the origin.
	Static []string `toml:"static"`

	// Dynamic entries are URL fragments served network-first.
	Dynamic []string `toml:"dynamic"`
}

// DefaultManifest returns the built-in app shell and API patterns.
func DefaultManifest() *Manifest {
	return &Manifest{
		Version: DefaultVersion,
		Static: []string{
			"/",
			"/index.html",
			"/src/main.jsx",
			"/src/index.css",
			"/manifest.json",
			"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700&display=swap",
		},
		Dynamic: []string{
			"/api/",
			"https://firestore.googleapis.com",
		},
	}
}

// LoadManifest reads a TOML manifest. Missing fields fall back to the
// defaults.
//
//	version = "v4"
//	static  = ["/", "/index.html", "/assets/app.js"]
//	dynamic = ["/api/"]
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	def := DefaultManifest()
	if m.Version == "" {
		m.Version = def.Version
	}
	if m.Static == nil {
		m.Static = def.Static
	}
	if m.Dynamic == nil {
		m.Dynamic = def.Dynamic
	}
	return &m, nil
}

// StaticURLs resolves the static entries against origin.
func (m *Manifest) StaticURLs(origin *url.URL) ([]string, error) {
	urls := make([]string, 0, len(m.Static))
	for _, entry := range m.Static {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid static entry %q: %w", entry, err)
		}
		urls = append(urls, origin.ResolveReference(ref).String())
	}
	return urls, nil
}

// IsStatic reports whether u is handled cache-first. The root entry "/"
// matches only the root page; every other entry matches by substring.
func (m *Manifest) IsStatic(u *url.URL) bool {
	s := u.String()
	for _, entry := range m.Static {
		if entry == "/" {
			if u.Path == "/" && u.RawQuery == "" {
				return true
			}
			continue
		}
		if strings.Contains(s, entry) {
			return true
		}
	}
	return false
}

// IsDynamic reports whether u is handled network-first.
func (m *Manifest) IsDynamic(u *url.URL) bool {
	s := u.String()
	for _, entry := range m.Dynamic {
		if strings.Contains(s, entry) {
			return true
		}
	}
	return false
}
