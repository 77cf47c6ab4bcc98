package github

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Pagination defaults.
const (
	DefaultPerPage  = 100
	DefaultMaxPages = 50
)

// PageIterator lazily fetches pages of a paginated list endpoint. Each
// call to Next fetches one page through the rate-limit wrapper.
//
// Iteration stops at an empty page, a short page, a response whose Link
// header has no rel="next", or after MaxPages pages.
//
// The iterator is not safe for concurrent use.
type PageIterator[T any] struct {
	client   *Client
	path     string
	query    url.Values
	perPage  int
	maxPages int
	page     int
	done     bool
	fetch    func(ctx context.Context, path string) ([]T, http.Header, error)
}

// list creates an iterator over path. P is the response envelope GitHub
// wraps each page in; items extracts the page's entries from it.
// conditional selects ETag revalidation for every page.
func list[T, P any](client *Client, path string, query url.Values, conditional bool, items func(*P) []T) *PageIterator[T] {
	get := client.getUncached
	if conditional {
		get = client.get
	}
	return &PageIterator[T]{
		client:   client,
		path:     path,
		query:    query,
		perPage:  client.perPage,
		maxPages: client.maxPages,
		fetch: func(ctx context.Context, path string) ([]T, http.Header, error) {
			var envelope P
			header, err := get(ctx, path, &envelope)
			if err != nil {
				return nil, nil, err
			}
			return items(&envelope), header, nil
		},
	}
}

// Next fetches the next page. It returns nil, nil once all pages have been
// consumed.
func (iterator *PageIterator[T]) Next(ctx context.Context) ([]T, error) {
	if iterator.done || iterator.page >= iterator.maxPages {
		return nil, nil
	}
	iterator.page++

	query := maps.Clone(iterator.query)
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(iterator.perPage))
	query.Set("page", strconv.Itoa(iterator.page))

	items, header, err := iterator.fetch(ctx, iterator.path+"?"+query.Encode())
	if err != nil {
		iterator.done = true
		return nil, err
	}
	if len(items) == 0 {
		iterator.done = true
		return nil, nil
	}
	if len(items) < iterator.perPage {
		iterator.done = true
	}
	if link := header.Get("Link"); link != "" && parseLinkNext(link) == "" {
		iterator.done = true
	}

	if !iterator.done && iterator.page == iterator.maxPages {
		iterator.client.logger.Warn("pagination cap reached, later pages skipped",
			"path", iterator.path,
			"max_pages", iterator.maxPages)
	}
	return items, nil
}

// Collect fetches all remaining pages and returns their items
// concatenated.
func (iterator *PageIterator[T]) Collect(ctx context.Context) ([]T, error) {
	var all []T
	for {
		items, err := iterator.Next(ctx)
		if err != nil {
			return all, err
		}
		if items == nil {
			return all, nil
		}
		all = append(all, items...)
	}
}

// parseLinkNext extracts the URL with rel="next" from an RFC 5988 Link
// header. Returns "" if there is none.
//
// Format: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		urlPart, relPart, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok || !strings.Contains(relPart, `rel="next"`) {
			continue
		}
		urlPart = strings.TrimSpace(urlPart)
		if strings.HasPrefix(urlPart, "<") && strings.HasSuffix(urlPart, ">") {
			return urlPart[1 : len(urlPart)-1]
		}
	}
	return ""
}
