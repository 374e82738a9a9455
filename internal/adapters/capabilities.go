// Package adapters describes what each social platform supports and picks
// the execution mode for an action.
package adapters

import (
	"slices"
	"sort"
	"sync"

	"github.com/rendis/socialflow/pkg/schema"
)

// Capability lists the modes a platform supports, per action.
type Capability struct {
	SupportsAPI              bool                                         `json:"supportsApi"`
	SupportsCloudBrowser     bool                                         `json:"supportsCloudBrowser"`
	SupportsExtensionBrowser bool                                         `json:"supportsExtensionBrowser"`
	Actions                  map[schema.ActionType][]schema.ExecutionMode `json:"actions"`
}

// Modes returns the modes declared for action, in preference order.
func (c Capability) Modes(action schema.ActionType) []schema.ExecutionMode {
	return c.Actions[action]
}

// Registry maps platforms to capabilities.
type Registry struct {
	mu   sync.RWMutex
	caps map[schema.Platform]Capability
}

// NewRegistry returns a registry preloaded with the built-in platforms.
func NewRegistry() *Registry {
	r := &Registry{caps: make(map[schema.Platform]Capability)}
	r.Register(schema.PlatformX, Capability{
		SupportsCloudBrowser:     true,
		SupportsExtensionBrowser: true,
		Actions: map[schema.ActionType][]schema.ExecutionMode{
			schema.ActionPublishPost: {schema.ModeCloudBrowser, schema.ModeExtensionBrowser},
		},
	})
	r.Register(schema.PlatformLinkedIn, Capability{
		SupportsCloudBrowser:     true,
		SupportsExtensionBrowser: true,
		Actions: map[schema.ActionType][]schema.ExecutionMode{
			schema.ActionPublishPost: {schema.ModeExtensionBrowser, schema.ModeCloudBrowser},
			schema.ActionSendDM:      {schema.ModeExtensionBrowser},
		},
	})
	// Xiaohongshu is driven through an HTTP bridge service.
	api := []schema.ExecutionMode{schema.ModeAPI}
	r.Register(schema.PlatformXiaohongshu, Capability{
		SupportsAPI: true,
		Actions: map[schema.ActionType][]schema.ExecutionMode{
			schema.ActionPublishPost:    api,
			schema.ActionPublishVideo:   api,
			schema.ActionLikePost:       api,
			schema.ActionCommentPost:    api,
			schema.ActionSearchFeeds:    api,
			schema.ActionGetFeedDetail:  api,
			schema.ActionResolveProfile: api,
		},
	})
	return r
}

// Register sets or replaces the capability of platform.
func (r *Registry) Register(platform schema.Platform, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[platform] = c
}

// Get returns the capability of platform.
func (r *Registry) Get(platform schema.Platform) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[platform]
	if !ok {
		return Capability{}, schema.NewErrorf(schema.ErrCodeNotFound, "no adapter for platform %q", platform)
	}
	return c, nil
}

// Platforms returns the registered platforms, sorted.
func (r *Registry) Platforms() []schema.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.Platform, 0, len(r.caps))
	for p := range r.caps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChooseMode keeps the requested mode when the platform supports it for the
// action, otherwise falls back to the first declared mode, and finally to
// extension_browser.
func (r *Registry) ChooseMode(req *schema.ActionRequest) schema.ExecutionMode {
	c, err := r.Get(req.Platform)
	if err != nil {
		return schema.ModeExtensionBrowser
	}
	modes := c.Modes(req.Action)
	if slices.Contains(modes, req.Mode) {
		return req.Mode
	}
	if len(modes) > 0 {
		return modes[0]
	}
	return schema.ModeExtensionBrowser
}
