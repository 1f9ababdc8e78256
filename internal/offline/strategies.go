package offline

import (
	"context"
	"io"
	"net/http"
	"strings"
)

const offlineBody = "Offline"

func (c *Coordinator) network(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.fetcher.Do(req.Clone(ctx))
}

// cacheFirst serves from the static bucket and only goes to the network on
// a miss. Failed document requests fall back to the cached root page.
func (c *Coordinator) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := req.URL.String()
	bucket, err := c.caches.Open(ctx, c.names.Static)
	if err != nil {
		c.logger.Printf("Warning: failed to open %s: %v", c.names.Static, err)
		return c.network(ctx, req)
	}

	if cached, ok, err := bucket.Match(ctx, key); err != nil {
		c.logger.Printf("Warning: cache lookup for %s failed: %v", key, err)
	} else if ok {
		return cached.Response(req), nil
	}

	resp, err := c.network(ctx, req)
	if err != nil {
		if isDocument(req) {
			if shell, ok, _ := bucket.Match(ctx, c.resolve("/")); ok {
				return shell.Response(req), nil
			}
		}
		return nil, err
	}

	c.store(ctx, bucket, key, resp)
	return resp, nil
}

// networkFirst always asks the network; 200 responses are cached and a
// network failure falls back to the dynamic bucket.
func (c *Coordinator) networkFirst(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := req.URL.String()
	bucket, berr := c.caches.Open(ctx, c.names.Dynamic)
	if berr != nil {
		c.logger.Printf("Warning: failed to open %s: %v", c.names.Dynamic, berr)
	}

	resp, err := c.network(ctx, req)
	if err == nil {
		if resp.StatusCode == http.StatusOK && bucket != nil {
			c.store(ctx, bucket, key, resp)
		}
		return resp, nil
	}

	if bucket != nil {
		if cached, ok, _ := bucket.Match(ctx, key); ok {
			return cached.Response(req), nil
		}
	}
	return nil, err
}

// staleWhileRevalidate returns the cached entry at once and refreshes it in
// the background. With nothing cached it waits for the network and answers
// 503 when that fails too.
func (c *Coordinator) staleWhileRevalidate(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := req.URL.String()
	bucket, err := c.caches.Open(ctx, c.names.Dynamic)
	if err != nil {
		c.logger.Printf("Warning: failed to open %s: %v", c.names.Dynamic, err)
		resp, err := c.network(ctx, req)
		if err != nil {
			return unavailable(req), nil
		}
		return resp, nil
	}

	cached, ok, err := bucket.Match(ctx, key)
	if err != nil {
		c.logger.Printf("Warning: cache lookup for %s failed: %v", key, err)
	}
	if ok {
		c.revalidate(bucket, key, req.Clone(c.ctx))
		return cached.Response(req), nil
	}

	resp, err := c.network(ctx, req)
	if err != nil {
		return unavailable(req), nil
	}
	if resp.StatusCode == http.StatusOK {
		c.store(ctx, bucket, key, resp)
	}
	return resp, nil
}

func (c *Coordinator) revalidate(bucket Bucket, key string, req *http.Request) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resp, err := c.fetcher.Do(req)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Printf("Warning: revalidation of %s failed: %v", key, err)
			}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return
		}
		c.store(c.ctx, bucket, key, resp)
	}()
}

// store snapshots resp into bucket under key. resp.Body stays readable.
func (c *Coordinator) store(ctx context.Context, bucket Bucket, key string, resp *http.Response) {
	snap, err := Snapshot(resp)
	if err != nil {
		c.logger.Printf("Warning: failed to cache %s: %v", key, err)
		return
	}
	snap.URL = key
	if err := bucket.Put(ctx, key, snap); err != nil {
		c.logger.Printf("Warning: failed to cache %s: %v", key, err)
	}
}

func isDocument(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func unavailable(req *http.Request) *http.Response {
	c := &CachedResponse{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:   []byte(offlineBody),
	}
	return c.Response(req)
}
