package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// STACBackend resolves assets through per-scene STAC items. The item for
// scene id is read from "<id>.json" on the inner backend; asset hrefs are
// matched to layers by role and fetched through the same inner backend.
// Headers live next to the data with a .hdr extension.
type STACBackend struct {
	inner Backend

	mu    sync.Mutex
	items map[string]*gostac.Item
}

// NewSTACBackend wraps inner.
func NewSTACBackend(inner Backend) *STACBackend {
	return &STACBackend{inner: inner, items: make(map[string]*gostac.Item)}
}

// Item returns the decoded STAC item of a scene.
func (b *STACBackend) Item(ctx context.Context, id string) (*gostac.Item, error) {
	b.mu.Lock()
	item, ok := b.items[id]
	b.mu.Unlock()
	if ok {
		return item, nil
	}

	data, err := b.inner.ReadFile(ctx, id+".json")
	if err != nil {
		return nil, fmt.Errorf("read STAC item %s: %w", id, err)
	}
	item = &gostac.Item{}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, fmt.Errorf("decode STAC item %s: %w", id, err)
	}
	if item.Id != "" && item.Id != id {
		return nil, fmt.Errorf("STAC item %s.json has id %q", id, item.Id)
	}

	b.mu.Lock()
	b.items[id] = item
	b.mu.Unlock()
	return item, nil
}

// AcquisitionDOY returns the day of year of the item's datetime property.
func (b *STACBackend) AcquisitionDOY(ctx context.Context, id string) (int, error) {
	item, err := b.Item(ctx, id)
	if err != nil {
		return 0, err
	}
	raw, _ := item.Properties["datetime"].(string)
	if raw == "" {
		return 0, fmt.Errorf("STAC item %s has no datetime", id)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("STAC item %s datetime: %w", id, err)
	}
	return t.YearDay(), nil
}

func (b *STACBackend) resolve(ctx context.Context, name string) (string, error) {
	id, layer, ext, ok := parseAssetName(name)
	if !ok {
		return "", fmt.Errorf("asset name %q does not name a scene layer", name)
	}
	item, err := b.Item(ctx, id)
	if err != nil {
		return "", err
	}
	for _, key := range sortedKeys(item.Assets) {
		a := item.Assets[key]
		if a == nil || !slices.Contains(a.Roles, layer.Role()) {
			continue
		}
		href := strings.TrimPrefix(a.Href, "./")
		return strings.TrimSuffix(href, path.Ext(href)) + ext, nil
	}
	return "", fmt.Errorf("%w: STAC item %s has no %q asset", fs.ErrNotExist, id, layer.Role())
}

// Open resolves name through the scene's item and opens it.
func (b *STACBackend) Open(ctx context.Context, name string) (Asset, error) {
	href, err := b.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.inner.Open(ctx, href)
}

// ReadFile resolves name through the scene's item and reads it.
func (b *STACBackend) ReadFile(ctx context.Context, name string) ([]byte, error) {
	href, err := b.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.inner.ReadFile(ctx, href)
}

func sortedKeys(m map[string]*gostac.Asset) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
