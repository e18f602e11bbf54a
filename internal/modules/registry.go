package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/store"
)

const manifestCacheTTL = time.Hour

// ManifestCache is the slice of the bus the registry needs.
type ManifestCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

// Registry holds discovered module manifests and answers permission-filtered
// tool views. Manifests are written only by the discovery tick and read by
// every agent-loop invocation.
type Registry struct {
	baseURLs map[string]string // module name → base URL
	token    string            // inter-service bearer token
	cache    ManifestCache     // nil = in-process only
	client   *http.Client

	mu        sync.RWMutex
	manifests map[string]*Manifest
}

// NewRegistry builds a registry over the configured module base URLs
// (name → http://host:port).
func NewRegistry(baseURLs map[string]string, token string, cache ManifestCache) *Registry {
	return &Registry{
		baseURLs:  baseURLs,
		token:     token,
		cache:     cache,
		client:    &http.Client{Timeout: 10 * time.Second},
		manifests: make(map[string]*Manifest),
	}
}

func manifestCacheKey(module string) string {
	return "module_manifest:" + module
}

// Refresh fetches every configured module's manifest. Unreachable modules
// keep their previous manifest; a module that has never answered simply has
// no tools until it does.
func (r *Registry) Refresh(ctx context.Context) {
	for name, base := range r.baseURLs {
		m, err := r.fetchManifest(ctx, name, base)
		if err != nil {
			slog.Warn("modules.manifest_fetch_failed", "module", name, "error", err)
			continue
		}
		r.mu.Lock()
		r.manifests[m.ModuleName] = m
		r.mu.Unlock()

		if r.cache != nil {
			raw, _ := json.Marshal(m)
			if err := r.cache.Set(ctx, manifestCacheKey(m.ModuleName), string(raw), manifestCacheTTL); err != nil {
				slog.Warn("modules.manifest_cache_write_failed", "module", m.ModuleName, "error", err)
			}
		}
	}
}

// RunRefreshLoop refreshes manifests on an interval until ctx is done.
func (r *Registry) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	r.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Registry) fetchManifest(ctx context.Context, name, base string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/manifest", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.ModuleName == "" {
		m.ModuleName = name
	}
	return &m, nil
}

// LoadCached seeds the in-process view from the shared cache, for fast
// startup before the first refresh completes. Cache misses are safe.
func (r *Registry) LoadCached(ctx context.Context) {
	if r.cache == nil {
		return
	}
	for name := range r.baseURLs {
		raw, ok, err := r.cache.Get(ctx, manifestCacheKey(name))
		if err != nil || !ok {
			continue
		}
		var m Manifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		r.mu.Lock()
		if _, have := r.manifests[m.ModuleName]; !have {
			r.manifests[m.ModuleName] = &m
		}
		r.mu.Unlock()
	}
}

// ToolsFor returns the tools visible to a user: the tool's module must be
// in allowedModules and the user's permission must dominate the tool's
// required permission. Names are returned qualified as "module.tool".
func (r *Registry) ToolsFor(perm store.PermissionLevel, allowedModules []string) []llm.ToolDefinition {
	allowed := make(map[string]bool, len(allowedModules))
	for _, m := range allowedModules {
		allowed[m] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []llm.ToolDefinition
	for name, m := range r.manifests {
		if !allowed[name] {
			continue
		}
		for _, t := range m.Tools {
			if !perm.Allows(t.RequiredPermission) {
				continue
			}
			def := t.ToolDefinition
			if !strings.Contains(def.Name, ".") {
				def.Name = name + "." + def.Name
			}
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Module returns the base URL for a registered module.
func (r *Registry) Module(name string) (string, bool) {
	r.mu.RLock()
	_, known := r.manifests[name]
	r.mu.RUnlock()
	base, configured := r.baseURLs[name]
	return base, known && configured
}

// SetManifest injects a manifest directly. Test hook.
func (r *Registry) SetManifest(m *Manifest) {
	r.mu.Lock()
	r.manifests[m.ModuleName] = m
	r.mu.Unlock()
}
