package zoho

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	intake "github.com/phbpx/crm-intake"
	"github.com/phbpx/crm-intake/pkg/metrics"
)

const (
	defaultCatalogCacheSize = 128
	defaultMaxPages         = 10
	searchPageSize          = 200
)

// Provider module field names.
const (
	providerActive  = "Active"
	providerCountry = "Country"
	providerState   = "State"
	providerCity    = "City"
)

type providerRecord struct {
	ID            string   `json:"id"`
	Name          string   `json:"Name"`
	Active        bool     `json:"Active"`
	Country       string   `json:"Country"`
	State         string   `json:"State"`
	City          string   `json:"City"`
	Price         *float64 `json:"Price"`
	BookingLinkEN string   `json:"Booking_Link_EN"`
	BookingLinkES string   `json:"Booking_Link_ES"`
}

func (r providerRecord) provider() intake.Provider {
	links := make(map[string]string, 2)
	if r.BookingLinkEN != "" {
		links["en"] = r.BookingLinkEN
	}
	if r.BookingLinkES != "" {
		links["es"] = r.BookingLinkES
	}
	return intake.Provider{
		ID:           r.ID,
		Name:         strings.TrimSpace(r.Name),
		Price:        r.Price,
		Active:       r.Active,
		Country:      strings.TrimSpace(r.Country),
		State:        strings.TrimSpace(r.State),
		City:         strings.TrimSpace(r.City),
		BookingLinks: links,
	}
}

type searchResponse[T any] struct {
	Data []T `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

// CatalogConfig tunes the provider catalog.
type CatalogConfig struct {
	Module    string
	CacheTTL  time.Duration
	CacheSize int
	MaxPages  int
}

// CatalogService answers location questions from the provider module.
type CatalogService struct {
	client   *Client
	module   string
	maxPages int
	cache    *expirable.LRU[Criteria, []intake.Provider]
	metrics  *metrics.Metrics
}

// NewCatalogService builds a CatalogService. A zero CacheTTL disables caching.
func NewCatalogService(client *Client, cfg CatalogConfig, m *metrics.Metrics) *CatalogService {
	module := cfg.Module
	if module == "" {
		module = Modules{}.withDefaults().Providers
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	cs := CatalogService{
		client:   client,
		module:   module,
		maxPages: maxPages,
		metrics:  m,
	}

	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = defaultCatalogCacheSize
		}
		cs.cache = expirable.NewLRU[Criteria, []intake.Provider](size, nil, cfg.CacheTTL)
	}

	return &cs
}

// Countries returns the distinct countries with at least one active provider.
func (cs *CatalogService) Countries(ctx context.Context) ([]string, error) {
	providers, err := cs.active(ctx, "countries")
	if err != nil {
		return nil, err
	}
	return distinct(providers, func(p intake.Provider) string { return p.Country }), nil
}

// States returns the regions of country. Only the United States is split
// by region; every other country yields an empty list without a CRM call.
func (cs *CatalogService) States(ctx context.Context, country string) ([]string, error) {
	if !intake.HasRegions(country) {
		return []string{}, nil
	}
	providers, err := cs.active(ctx, "states", Equals(providerCountry, country))
	if err != nil {
		return nil, err
	}
	return distinct(providers, func(p intake.Provider) string { return p.State }), nil
}

// Cities returns the cities with active providers in country, and state
// when given.
func (cs *CatalogService) Cities(ctx context.Context, country, state string) ([]string, error) {
	filters := []Criteria{Equals(providerCountry, country)}
	if state != "" {
		filters = append(filters, Equals(providerState, state))
	}
	providers, err := cs.active(ctx, "cities", filters...)
	if err != nil {
		return nil, err
	}
	return distinct(providers, func(p intake.Provider) string { return p.City }), nil
}

// Surgeons lists the active providers practicing at loc, sorted by name.
func (cs *CatalogService) Surgeons(ctx context.Context, loc intake.Location) ([]intake.Provider, error) {
	filters := []Criteria{Equals(providerCountry, loc.Country)}
	if loc.State != "" {
		filters = append(filters, Equals(providerState, loc.State))
	}
	filters = append(filters, Equals(providerCity, loc.City))

	providers, err := cs.active(ctx, "surgeons", filters...)
	if err != nil {
		return nil, err
	}

	out := make([]intake.Provider, len(providers))
	copy(out, providers)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Surgeon returns one active provider by id.
func (cs *CatalogService) Surgeon(ctx context.Context, id string) (intake.Provider, error) {
	var resp searchResponse[providerRecord]
	status, err := cs.client.Get(ctx, "/"+cs.module+"/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		var rerr *intake.RemoteError
		if errors.As(err, &rerr) && (rerr.StatusCode == http.StatusNotFound || rerr.Code == intake.CodeInvalidData) {
			return intake.Provider{}, intake.ErrProviderNotFound
		}
		return intake.Provider{}, err
	}
	if status == http.StatusNoContent || len(resp.Data) == 0 || !resp.Data[0].Active {
		return intake.Provider{}, intake.ErrProviderNotFound
	}
	return resp.Data[0].provider(), nil
}

// active returns the active providers matching filters, from cache when
// possible.
func (cs *CatalogService) active(ctx context.Context, query string, filters ...Criteria) ([]intake.Provider, error) {
	criteria := And(append([]Criteria{EqualsBool(providerActive, true)}, filters...)...)

	if cs.cache != nil {
		if providers, ok := cs.cache.Get(criteria); ok {
			cs.metrics.Cache(query, true)
			return providers, nil
		}
		cs.metrics.Cache(query, false)
	}

	providers, err := cs.search(ctx, criteria)
	if err != nil {
		return nil, err
	}

	if cs.cache != nil {
		cs.cache.Add(criteria, providers)
	}
	return providers, nil
}

func (cs *CatalogService) search(ctx context.Context, criteria Criteria) ([]intake.Provider, error) {
	var providers []intake.Provider

	for page := 1; page <= cs.maxPages; page++ {
		q := url.Values{}
		q.Set("criteria", string(criteria))
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(searchPageSize))

		var resp searchResponse[providerRecord]
		status, err := cs.client.Get(ctx, "/"+cs.module+"/search", q, &resp)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNoContent {
			break
		}

		for _, r := range resp.Data {
			if r.Active {
				providers = append(providers, r.provider())
			}
		}

		if !resp.Info.MoreRecords {
			break
		}
	}

	return providers, nil
}

func distinct(providers []intake.Provider, key func(intake.Provider) string) []string {
	seen := make(map[string]bool, len(providers))
	out := []string{}
	for _, p := range providers {
		v := key(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
