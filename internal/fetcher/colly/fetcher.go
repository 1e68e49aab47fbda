// Package collyfetcher extracts classified ads from a search results page
// using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/doggo-watch/doggo/internal/metrics"
	"github.com/doggo-watch/doggo/internal/watchdog"
)

// Defaults matching the cyklobazar.cz listing markup.
const (
	DefaultAdSelector = ".content-layout__main > ul.cb-offer-list:not(.cb-offer-list--vertical) " +
		"> li.cb-offer-list__item > a.cb-offer:not(.cb-offer--ad)"
	DefaultTitleSelector = "div.cb-offer__header h4"
	DefaultIDPattern     = `/inzerat/(?P<id>.+?)/`
	defaultTimeout       = 15 * time.Second
)

// Config controls collector behavior and the ad extraction selectors.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	AdSelector    string
	TitleSelector string
	// IDPattern is matched against the ad link; the "id" group, or the first
	// group when unnamed, is the external id.
	IDPattern string
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements watchdog.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	idPattern     *regexp.Regexp
	idGroup       int
	limiter       Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) (*Fetcher, error) {
	if cfg.AdSelector == "" {
		cfg.AdSelector = DefaultAdSelector
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = DefaultTitleSelector
	}
	if cfg.IDPattern == "" {
		cfg.IDPattern = DefaultIDPattern
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	pattern, err := regexp.Compile(cfg.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if pattern.NumSubexp() == 0 {
		return nil, fmt.Errorf("id pattern %q has no capture group", cfg.IDPattern)
	}
	group := pattern.SubexpIndex("id")
	if group < 0 {
		group = 1
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	metrics.Init()
	return &Fetcher{
		cfg:           cfg,
		idPattern:     pattern,
		idGroup:       group,
		limiter:       limiter,
		baseCollector: c,
	}, nil
}

// FetchAds downloads searchURL and returns every ad on the page in document
// order.
func (f *Fetcher) FetchAds(ctx context.Context, searchURL string) ([]watchdog.Ad, error) {
	site := metrics.SanitizeSite(searchURL)
	start := time.Now()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, searchURL); err != nil {
			metrics.ObserveFetch(site, metrics.ResultFailure, time.Since(start))
			return nil, fmt.Errorf("throttle %s: %w", searchURL, err)
		}
	}

	var (
		ads      []watchdog.Ad
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &ads, &fetchErr)

	if err := f.runCollector(ctx, collector, searchURL, &fetchErr); err != nil {
		metrics.ObserveFetch(site, metrics.ResultFailure, time.Since(start))
		return nil, err
	}
	metrics.ObserveFetch(site, metrics.ResultSuccess, time.Since(start))
	return ads, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, ads *[]watchdog.Ad, fetchErr *error) {
	hooks.OnHTML(f.cfg.AdSelector, func(e *colly.HTMLElement) {
		id, ok := f.externalID(e.Attr("href"))
		if !ok {
			return
		}
		// Listings without a title are incomplete and skipped.
		title := strings.TrimSpace(e.ChildText(f.cfg.TitleSelector))
		if title == "" {
			return
		}
		*ads = append(*ads, watchdog.Ad{ExternalID: id, Title: title})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) externalID(href string) (string, bool) {
	match := f.idPattern.FindStringSubmatch(href)
	if match == nil || f.idGroup >= len(match) || match[f.idGroup] == "" {
		return "", false
	}
	return match[f.idGroup], true
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		// OnError sees the same failure Visit returns, with the status attached.
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", url, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
