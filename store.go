package zarrpeek

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Store is a uniform read interface over wherever a zarr hierarchy lives.
// Keys are slash-separated relative paths ("0/.zarray", "0/1.2"). A missing
// key is reported as ErrKeyNotFound; anything else wrapping a transport or
// storage failure is a *FetchError.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// OpenStore dispatches a store location to the right implementation: http://
// and https:// URLs open an HTTPStore, everything else a DirStore.
func OpenStore(location string) (Store, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return OpenHTTP(location, nil)
	}
	return OpenDir(location)
}

// DirStore reads a zarr hierarchy rooted at a local directory.
type DirStore struct {
	root string
}

func OpenDir(path string) (*DirStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FetchError{Key: path, Err: err}
	}
	if !info.IsDir() {
		return nil, &FetchError{Key: path, Err: fmt.Errorf("not a directory")}
	}
	return &DirStore{root: path}, nil
}

func (s *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, &FetchError{Key: key, Err: err}
	}
	return data, nil
}

// HTTPStore reads a zarr hierarchy from an HTTP endpoint, one GET per key
// appended to the base URL as a path segment. Retries and timeouts belong to
// the supplied client, not here.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
}

func OpenHTTP(rawURL string, client *http.Client) (*HTTPStore, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{Key: rawURL, Err: err}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{base: base, client: client}, nil
}

func (s *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	target := *s.base
	target.Path = strings.TrimSuffix(target.Path, "/") + "/" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrKeyNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &FetchError{Key: key, Err: fmt.Errorf("unexpected response code %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	return data, nil
}

// MapStore is an in-memory Store, used by tests and synthetic fixtures.
type MapStore map[string][]byte

func (s MapStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return data, nil
}
