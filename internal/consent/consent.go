// Package consent stores cookie-consent choices and derives which
// third-party script categories may be loaded.
package consent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"github.com/wufi/storefront-checkout/internal/storage"
)

// StorageKey prefixes persisted consent settings.
const StorageKey = "wufi-cookie-consent"

// Key returns the storage key for a visitor.
func Key(visitorID string) string {
	return StorageKey + ":" + visitorID
}

// Category is a cookie/script category.
type Category string

const (
	Necessary   Category = "necessary"
	Analytics   Category = "analytics"
	Marketing   Category = "marketing"
	Preferences Category = "preferences"
)

// Settings is the visitor's choice. Necessary is always true.
type Settings struct {
	Necessary   bool      `json:"necessary"`
	Analytics   bool      `json:"analytics"`
	Marketing   bool      `json:"marketing"`
	Preferences bool      `json:"preferences"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Default is what an undecided visitor gets.
func Default() Settings {
	return Settings{Necessary: true}
}

// AcceptAll grants every category.
func AcceptAll() Settings {
	return Settings{Necessary: true, Analytics: true, Marketing: true, Preferences: true}
}

func (s Settings) normalize() Settings {
	s.Necessary = true
	return s
}

// Allows reports whether scripts of category c may run.
func (s Settings) Allows(c Category) bool {
	switch c {
	case Necessary:
		return true
	case Analytics:
		return s.Analytics
	case Marketing:
		return s.Marketing
	case Preferences:
		return s.Preferences
	}
	return false
}

// Script is a third-party script gated by a category.
type Script struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Src      string   `json:"src"`
}

// DefaultScripts are the storefront's third-party integrations.
var DefaultScripts = []Script{
	{Name: "payment-element", Category: Necessary, Src: "https://js.stripe.com/v3"},
	{Name: "google-analytics", Category: Analytics, Src: "https://www.googletagmanager.com/gtag/js"},
	{Name: "meta-pixel", Category: Marketing, Src: "https://connect.facebook.net/en_US/fbevents.js"},
	{Name: "support-chat", Category: Preferences, Src: "https://widget.wufi.dk/chat.js"},
}

// AllowedScripts filters scripts by s, sorted by name.
func AllowedScripts(s Settings, scripts []Script) []Script {
	out := make([]Script, 0, len(scripts))
	for _, sc := range scripts {
		if s.Allows(sc.Category) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Service reads and writes visitor settings.
type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(s storage.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}
}

// Get returns the visitor's settings. decided is false when the visitor has
// not chosen yet, in which case Default is returned.
func (svc *Service) Get(ctx context.Context, visitorID string) (s Settings, decided bool, err error) {
	b, ok, err := svc.store.Get(ctx, Key(visitorID))
	if err != nil {
		return Settings{}, false, fmt.Errorf("load consent: %w", err)
	}
	if !ok {
		return Default(), false, nil
	}
	if err := sonic.Unmarshal(b, &s); err != nil {
		return Settings{}, false, fmt.Errorf("decode consent: %w", err)
	}
	return s.normalize(), true, nil
}

// Save stores s for the visitor and returns what was stored.
func (svc *Service) Save(ctx context.Context, visitorID string, s Settings) (Settings, error) {
	s = s.normalize()
	s.UpdatedAt = svc.now().UTC()

	b, err := sonic.Marshal(s)
	if err != nil {
		return Settings{}, fmt.Errorf("encode consent: %w", err)
	}
	if err := svc.store.Set(ctx, Key(visitorID), b); err != nil {
		return Settings{}, fmt.Errorf("save consent: %w", err)
	}
	return s, nil
}

// Scripts returns the scripts the visitor allows.
func (svc *Service) Scripts(ctx context.Context, visitorID string) ([]Script, error) {
	s, _, err := svc.Get(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	return AllowedScripts(s, DefaultScripts), nil
}
