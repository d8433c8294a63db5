// Package anonymize turns bidder names into public display names.
package anonymize

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	model "live-auction/internal/models"
)

const (
	DefaultCacheSize = 4096

	anonymous = "Anonymous"
	you       = "You"
	fallback  = "Bidder"
)

// Obfuscate masks a first and last name, e.g. "John Doe" -> "J**n D*e"
func Obfuscate(firstName, lastName string) string {
	first := obfuscateWord(strings.TrimSpace(firstName))
	last := obfuscateWord(strings.TrimSpace(lastName))

	switch {
	case first == "" && last == "":
		return anonymous
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

func obfuscateWord(word string) string {
	runes := []rune(word)
	switch n := len(runes); {
	case n == 0:
		return ""
	case n <= 2:
		return string(runes[0]) + "*"
	default:
		return string(runes[0]) + strings.Repeat("*", min(n-2, 3)) + string(runes[n-1])
	}
}

// Bidder is the identity and names behind one bid
type Bidder struct {
	ID        string
	FirstName string
	LastName  string
}

// Viewer is the identity looking at a bid list
type Viewer struct {
	UserID string
	Role   model.Role
}

// Formatter resolves display names with a bounded memo of obfuscated names
type Formatter struct {
	cache *lru.Cache[string, string]
}

// NewFormatter creates a formatter holding at most size memoised names
func NewFormatter(size int) *Formatter {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Formatter{cache: cache}
}

// CanSeeFullNames reports whether the viewer may see unmasked names
func CanSeeFullNames(viewer Viewer, sellerID string) bool {
	if viewer.Role == model.RoleAdmin {
		return true
	}
	return viewer.UserID != "" && viewer.UserID == sellerID
}

// Public returns the memoised obfuscated name of a bidder
func (f *Formatter) Public(b Bidder) string {
	if name, ok := f.cache.Get(b.ID); ok {
		return name
	}
	name := Obfuscate(b.FirstName, b.LastName)
	f.cache.Add(b.ID, name)
	return name
}

// Format picks the name a given viewer sees for a bidder
func (f *Formatter) Format(b Bidder, viewer Viewer, sellerID string) string {
	if viewer.UserID != "" && viewer.UserID == b.ID {
		return you
	}
	if CanSeeFullNames(viewer, sellerID) {
		if full := strings.TrimSpace(b.FirstName + " " + b.LastName); full != "" {
			return full
		}
		return fallback
	}
	return f.Public(b)
}

// Len returns the number of memoised names
func (f *Formatter) Len() int {
	return f.cache.Len()
}
