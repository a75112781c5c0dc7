// Package registry answers package searches for the installer: a fixed list
// of popular packages, optionally backed by the npm search API.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultEndpoint is the public npm registry.
const DefaultEndpoint = "https://registry.npmjs.org"

// MinQueryLength is the shortest query sent to the remote search.
const MinQueryLength = 2

var ErrUnknownPackage = errors.New("package not found in registry")

type Package struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
}

var popular = []Package{
	{Name: "react", Version: "18.2.0", Description: "A JavaScript library for building user interfaces."},
	{Name: "react-dom", Version: "18.2.0", Description: "React package for working with the DOM."},
	{Name: "lodash", Version: "4.17.21", Description: "A modern JavaScript utility library delivering modularity, performance & extras."},
	{Name: "axios", Version: "1.4.0", Description: "Promise based HTTP client for the browser and node.js"},
	{Name: "tailwindcss", Version: "3.3.2", Description: "A utility-first CSS framework for rapidly building custom designs."},
	{Name: "typescript", Version: "5.0.4", Description: "TypeScript is a language for application-scale JavaScript."},
	{Name: "next", Version: "13.4.4", Description: "The React Framework for Production"},
	{Name: "express", Version: "4.18.2", Description: "Fast, unopinionated, minimalist web framework for node."},
	{Name: "mongoose", Version: "7.2.2", Description: "MongoDB object modeling designed to work in an asynchronous environment."},
	{Name: "redux", Version: "4.2.1", Description: "Predictable state container for JavaScript apps"},
}

// Popular returns the built-in list of popular packages.
func Popular() []Package {
	return append([]Package(nil), popular...)
}

type Options struct {
	// Endpoint of the npm registry. Empty disables remote search.
	Endpoint string
	Client   *http.Client
	// Limit caps remote results. Zero means 10.
	Limit    int
	CacheTTL time.Duration
}

// Catalog is safe for concurrent use.
type Catalog struct {
	endpoint string
	client   *http.Client
	limit    int
	cache    *expirable.LRU[string, []Package]
}

func New(opts Options) *Catalog {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Catalog{
		endpoint: strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/"),
		client:   client,
		limit:    limit,
		cache:    expirable.NewLRU[string, []Package](256, nil, ttl),
	}
}

// Search returns packages matching query. Short queries list the popular
// packages; remote failures fall back to filtering them.
func (c *Catalog) Search(ctx context.Context, query string) ([]Package, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if len(q) < MinQueryLength {
		return Popular(), nil
	}
	if c.endpoint == "" {
		return filterPopular(q), nil
	}
	if hit, ok := c.cache.Get(q); ok {
		return append([]Package(nil), hit...), nil
	}
	found, err := c.remote(ctx, q)
	if err != nil {
		return filterPopular(q), err
	}
	c.cache.Add(q, found)
	return append([]Package(nil), found...), nil
}

// Version returns the version to install for name when the caller gave none.
func (c *Catalog) Version(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	for _, p := range popular {
		if p.Name == name {
			return p.Version, nil
		}
	}
	if c.endpoint == "" || len(name) < MinQueryLength {
		return "", fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}
	found, err := c.Search(ctx, name)
	if err != nil {
		return "", err
	}
	for _, p := range found {
		if p.Name == name && p.Version != "" {
			return p.Version, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPackage, name)
}

type searchResponse struct {
	Objects []struct {
		Package Package `json:"package"`
	} `json:"objects"`
}

func (c *Catalog) remote(ctx context.Context, q string) ([]Package, error) {
	u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d", c.endpoint, url.QueryEscape(q), c.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry search: status %d", resp.StatusCode)
	}
	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("registry search: decode: %w", err)
	}
	out := make([]Package, 0, len(body.Objects))
	for _, o := range body.Objects {
		p := o.Package
		if p.Name == "" {
			continue
		}
		if p.Description == "" {
			p.Description = "No description available"
		}
		out = append(out, p)
	}
	return out, nil
}

func filterPopular(q string) []Package {
	out := make([]Package, 0, len(popular))
	for _, p := range popular {
		if strings.Contains(p.Name, q) || strings.Contains(strings.ToLower(p.Description), q) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.HasPrefix(out[i].Name, q) && !strings.HasPrefix(out[j].Name, q)
	})
	return out
}
