package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseToEntry converts an HTTP response to an Entry. Freshness comes
// from Cache-Control max-age, then Expires, then fallbackTTL. The
// response body is restored after reading.
func ResponseToEntry(resp *http.Response, fallbackTTL time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	entry := &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		Expires:    freshUntil(resp.Header, now, fallbackTTL),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   now,
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a cached entry.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Cache", "HIT")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

// freshUntil computes the expiry time of a response. no-store yields now,
// so the entry is never served without revalidation.
func freshUntil(headers http.Header, now time.Time, fallbackTTL time.Duration) time.Time {
	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.TrimSpace(strings.ToLower(directive))
			if directive == "no-store" {
				return now
			}
			if v, ok := strings.CutPrefix(directive, "max-age="); ok {
				if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			if expires.Before(now) {
				return now
			}
			return expires
		}
	}

	return now.Add(fallbackTTL)
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) based on the cache entry.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
