// Package images resolves rasterized page images, preferring the local
// folder and falling back to the remote image host with a local caching
// side effect.
package images

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pagecrowd/pagecrowd/internal/config"
)

// Store fetches page image bytes by page id.
type Store struct {
	folder    string
	urlBase   string
	extension string
	http      *http.Client
}

// NewStore builds an image store from configuration.
func NewStore(cfg *config.Config) *Store {
	return &Store{
		folder:    cfg.ImageFolder,
		urlBase:   cfg.ImageURLBase,
		extension: cfg.ImageExtension,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// ImageBytes returns the rasterized page image. The local folder is tried
// first; on a miss the remote host is fetched and the response is written
// back to the local cache before returning.
func (s *Store) ImageBytes(ctx context.Context, pageID string) ([]byte, error) {
	path := filepath.Join(s.folder, pageID+s.extension)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	url := s.urlBase + pageID + s.extension
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", url, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[images] could not cache image %s locally: %v", path, err)
	} else {
		log.Printf("[images] page %s not found locally; downloaded from %s. Consider syncing rasterized pages for better performance", pageID, s.urlBase)
	}
	return data, nil
}
