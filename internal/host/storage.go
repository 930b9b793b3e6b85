package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/warden/internal/provider"
)

type object struct {
	data     []byte
	modified time.Time
}

// ObjectStorage is a tenant's in-memory file bucket.
type ObjectStorage struct {
	limits
	bucket  string
	baseURL string

	mu      sync.Mutex
	objects map[string]object
}

func newObjectStorage(bucket, baseURL string) *ObjectStorage {
	return &ObjectStorage{
		bucket:  bucket,
		baseURL: baseURL,
		objects: make(map[string]object),
	}
}

func (o *ObjectStorage) BucketName() string { return o.bucket }

func (o *ObjectStorage) ListFiles(_ context.Context, prefix string) ([]provider.ObjectMetadata, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []provider.ObjectMetadata
	for key, obj := range o.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		modified := obj.modified
		sum := sha256.Sum256(obj.data)
		out = append(out, provider.ObjectMetadata{
			Key:          key,
			LastModified: &modified,
			Size:         int64(len(obj.data)),
			ETag:         hex.EncodeToString(sum[:8]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (o *ObjectStorage) FileExists(_ context.Context, key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok, nil
}

func (o *ObjectStorage) DownloadFile(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obj, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("file %q not found", key)
	}
	return slices.Clone(obj.data), nil
}

func (o *ObjectStorage) GetFileURL(_ context.Context, key string) (string, error) {
	return strings.TrimSuffix(o.baseURL, "/") + "/" + url.PathEscape(o.bucket) + "/" + url.PathEscape(key), nil
}

func (o *ObjectStorage) UploadFile(_ context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("file key must not be empty")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = object{data: slices.Clone(data), modified: time.Now().UTC()}
	return nil
}

func (o *ObjectStorage) DeleteFile(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

// Pages stores a tenant's template settings pages.
type Pages struct {
	limits

	mu   sync.Mutex
	page *provider.Page
}

func (p *Pages) Get(context.Context) (*provider.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page == nil {
		return nil, nil
	}
	cp := *p.page
	return &cp, nil
}

func (p *Pages) Set(_ context.Context, page provider.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page = &page
	return nil
}

func (p *Pages) Delete(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page = nil
	return nil
}

var (
	_ provider.ObjectStorageProvider = (*ObjectStorage)(nil)
	_ provider.PageProvider          = (*Pages)(nil)
)
