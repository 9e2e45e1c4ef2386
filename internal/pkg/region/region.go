package region

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mkang-dev/ToonGate/internal/pkg/cache"
	"github.com/mkang-dev/ToonGate/internal/pkg/env"
)

const (
	// DomesticCountry drives gateway and price selection.
	DomesticCountry = "KR"
	// CodeInternational is the synthetic code used when no country is known.
	CodeInternational = "INTL"

	cacheKeyPrefix = "region:ip:"
	defaultTTL     = time.Hour
)

// Region is the per-request geography classification.
type Region struct {
	Code       string
	IsDomestic bool
}

// Cache is the small expiring key-value surface the resolver needs.
type Cache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, ttl time.Duration) error
}

type redisCache struct{}

func (redisCache) Get(key string) (string, error) { return cache.Get(key) }
func (redisCache) Set(key string, value interface{}, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

// Resolver classifies a caller's IP into domestic/international. It never
// returns an error: private, unknown or unresolvable origins fall back to the
// configured default region.
type Resolver struct {
	LookupURL string
	// DefaultDomestic decides what an unresolvable origin counts as. In dev
	// this defaults to domestic for local testing; in production it defaults
	// to international so an outage bills the safer USD gateway instead of
	// silently routing everyone to the domestic one.
	DefaultDomestic bool
	CacheTTL        time.Duration

	HTTPClient *http.Client
	Cache      Cache
}

// NewResolverFromEnv builds the resolver with the documented default policy.
// REGION_DEFAULT=domestic|international overrides the APP_ENV-based choice.
func NewResolverFromEnv() *Resolver {
	defaultDomestic := env.IsDev()
	switch strings.ToLower(env.GetEnv("REGION_DEFAULT", "")) {
	case "domestic":
		defaultDomestic = true
	case "international":
		defaultDomestic = false
	}

	return &Resolver{
		LookupURL:       strings.TrimRight(env.GetEnv("GEOIP_LOOKUP_URL", "http://ip-api.com/json"), "/"),
		DefaultDomestic: defaultDomestic,
		CacheTTL:        defaultTTL,
		HTTPClient:      &http.Client{Timeout: 5 * time.Second},
		Cache:           redisCache{},
	}
}

// Resolve maps an IP to a region. Best effort only; the fallback region is
// returned for empty, private and loopback addresses and on any lookup or
// cache failure.
func (r *Resolver) Resolve(ctx context.Context, ip string) Region {
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return r.fallback()
	}

	if r.Cache != nil {
		if code, err := r.Cache.Get(cacheKeyPrefix + ip); err == nil && code != "" {
			return r.fromCountryCode(code)
		}
	}

	code, err := r.lookupCountry(ctx, ip)
	if err != nil || code == "" {
		return r.fallback()
	}

	if r.Cache != nil {
		_ = r.Cache.Set(cacheKeyPrefix+ip, code, r.ttl())
	}
	return r.fromCountryCode(code)
}

func (r *Resolver) lookupCountry(ctx context.Context, ip string) (string, error) {
	u := fmt.Sprintf("%s/%s?fields=status,countryCode", r.LookupURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("geo lookup failed: status=%d", resp.StatusCode)
	}

	var out struct {
		Status      string `json:"status"`
		CountryCode string `json:"countryCode"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !strings.EqualFold(out.Status, "success") {
		return "", fmt.Errorf("geo lookup returned status %q", out.Status)
	}
	return strings.ToUpper(strings.TrimSpace(out.CountryCode)), nil
}

func (r *Resolver) fromCountryCode(code string) Region {
	code = strings.ToUpper(strings.TrimSpace(code))
	return Region{Code: code, IsDomestic: code == DomesticCountry}
}

func (r *Resolver) fallback() Region {
	if r.DefaultDomestic {
		return Region{Code: DomesticCountry, IsDomestic: true}
	}
	return Region{Code: CodeInternational, IsDomestic: false}
}

func (r *Resolver) ttl() time.Duration {
	if r.CacheTTL > 0 {
		return r.CacheTTL
	}
	return defaultTTL
}
