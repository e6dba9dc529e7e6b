package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/net/html"

	"github.com/govmatch-ai/govmatch/internal/extract"
	"github.com/govmatch-ai/govmatch/internal/llm"
	"github.com/govmatch-ai/govmatch/internal/observability"
)

// Crawl limits.
const (
	defaultMaxPages   = 10
	defaultMaxDepth   = 3
	defaultCrawlDelay = 2 * time.Second
	defaultRobotsTTL  = time.Hour
	defaultUserAgent  = "govmatch-bot/1.0 (+https://govmatch.ai/crawler)"

	maxPageBytes   = 2 << 20
	maxRobotsBytes = 512 << 10
	robotsCacheLen = 256
)

// importantPathPattern marks URLs worth crawling first.
var importantPathPattern = regexp.MustCompile(`(?i)(about|company|services|capabilities|solutions|products|team|contact|past-performance|clients|work|portfolio)`)

// skippedExtensions are link targets that cannot yield page text.
var skippedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".css": true, ".js": true, ".zip": true,
	".mp4": true, ".mp3": true,
}

// WebsiteProfile is the structured overview aggregated from a crawl.
type WebsiteProfile struct {
	CompanyName    string   `json:"company_name,omitempty"`
	Mission        string   `json:"mission,omitempty"`
	Services       []string `json:"services,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
	Location       string   `json:"location,omitempty"`
	PagesCrawled   int      `json:"pages_crawled"`
	Pages          []string `json:"pages,omitempty"`

	// Text is the aggregated page text, kept for embedding.
	Text string `json:"-"`
}

// ScraperConfig configures the website scraper.
type ScraperConfig struct {
	HTTPClient *http.Client
	LLM        llm.LLM
	Extractor  *extract.Extractor
	Logger     *observability.Logger

	UserAgent string
	MaxPages  int
	MaxDepth  int
	// Delay is the pause between page fetches on the same host.
	Delay     time.Duration
	RobotsTTL time.Duration
}

// Scraper crawls a company website within robots.txt and budget limits and
// aggregates the page text into a structured overview.
type Scraper struct {
	client    *http.Client
	llm       llm.LLM
	extractor *extract.Extractor
	logger    *observability.Logger
	userAgent string
	maxPages  int
	maxDepth  int
	delay     time.Duration
	robots    *expirable.LRU[string, *robotsRules]
}

// NewScraper creates a website scraper.
func NewScraper(cfg ScraperConfig) *Scraper {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultCrawlDelay
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = defaultRobotsTTL
	}
	return &Scraper{
		client:    cfg.HTTPClient,
		llm:       cfg.LLM,
		extractor: cfg.Extractor,
		logger:    cfg.Logger,
		userAgent: cfg.UserAgent,
		maxPages:  cfg.MaxPages,
		maxDepth:  cfg.MaxDepth,
		delay:     cfg.Delay,
		robots:    expirable.NewLRU[string, *robotsRules](robotsCacheLen, nil, cfg.RobotsTTL),
	}
}

type crawlTarget struct {
	url   *url.URL
	depth int
}

// Scrape crawls the site breadth-first, important pages before incidental
// ones, and returns the aggregated overview.
func (s *Scraper) Scrape(ctx context.Context, site string) (*WebsiteProfile, error) {
	root, err := url.Parse(strings.TrimSpace(site))
	if err != nil {
		return nil, fmt.Errorf("parse website url: %w", err)
	}
	if root.Scheme == "" {
		root, err = url.Parse("https://" + strings.TrimSpace(site))
		if err != nil {
			return nil, fmt.Errorf("parse website url: %w", err)
		}
	}
	if root.Scheme != "http" && root.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", root.Scheme)
	}
	if root.Path == "" {
		root.Path = "/"
	}

	rules := s.robotsFor(ctx, root)

	var (
		important []crawlTarget
		ordinary  []crawlTarget
		seen      = map[string]bool{normalizeURL(root): true}
		profile   = &WebsiteProfile{}
		text      strings.Builder
		fetched   bool
	)
	important = append(important, crawlTarget{url: root, depth: 0})

crawl:
	for profile.PagesCrawled < s.maxPages {
		var target crawlTarget
		switch {
		case len(important) > 0:
			target, important = important[0], important[1:]
		case len(ordinary) > 0:
			target, ordinary = ordinary[0], ordinary[1:]
		default:
			break crawl
		}

		if !rules.allowed(target.url.Path) {
			s.logger.Debug().Str("url", target.url.String()).Msg("disallowed by robots.txt")
			continue
		}

		if fetched {
			if err := s.pause(ctx); err != nil {
				return nil, err
			}
		}
		fetched = true

		body, err := s.fetchPage(ctx, target.url)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", target.url.String()).Msg("page fetch failed")
			continue
		}

		extracted := s.extractor.Extract(ctx, body, "page.html")
		if extracted.Success && strings.TrimSpace(extracted.FullText) != "" {
			if text.Len() > 0 {
				text.WriteString("\n\n")
			}
			text.WriteString(extracted.FullText)
		}
		profile.PagesCrawled++
		profile.Pages = append(profile.Pages, target.url.String())

		if target.depth >= s.maxDepth {
			continue
		}
		for _, link := range extractLinks(body, target.url) {
			if link.Host != root.Host || (link.Scheme != "http" && link.Scheme != "https") {
				continue
			}
			if skippedExtensions[strings.ToLower(path.Ext(link.Path))] {
				continue
			}
			key := normalizeURL(link)
			if seen[key] {
				continue
			}
			seen[key] = true
			next := crawlTarget{url: link, depth: target.depth + 1}
			if importantPathPattern.MatchString(link.Path) {
				important = append(important, next)
			} else {
				ordinary = append(ordinary, next)
			}
		}
	}

	if profile.PagesCrawled == 0 {
		return nil, fmt.Errorf("no pages could be crawled from %s", root.Host)
	}
	profile.Text = text.String()
	s.aggregate(ctx, profile)

	s.logger.Info().
		Str("host", root.Host).
		Int("pages", profile.PagesCrawled).
		Msg("website crawl complete")
	return profile, nil
}

// aggregate runs the LLM field extraction over the crawl text. Best-effort:
// a failed extraction leaves the raw text result intact.
func (s *Scraper) aggregate(ctx context.Context, profile *WebsiteProfile) {
	if s.llm == nil || strings.TrimSpace(profile.Text) == "" {
		return
	}
	fields, err := s.llm.ExtractFields(ctx, profile.Text, []string{
		"company_name", "mission_statement", "services", "certifications", "location",
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("website field extraction failed")
		return
	}
	profile.CompanyName = fields["company_name"]
	profile.Mission = fields["mission_statement"]
	profile.Location = fields["location"]
	if v := fields["services"]; v != "" {
		profile.Services = splitListItems([]string{v})
	}
	if v := fields["certifications"]; v != "" {
		profile.Certifications = splitListItems([]string{v})
	}
}

func (s *Scraper) pause(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}

func (s *Scraper) fetchPage(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		return nil, fmt.Errorf("content type %s", ct)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

// robotsFor returns the host's robots rules, fetching and caching on miss.
func (s *Scraper) robotsFor(ctx context.Context, root *url.URL) *robotsRules {
	if rules, ok := s.robots.Get(root.Host); ok {
		return rules
	}
	rules := s.fetchRobots(ctx, root)
	s.robots.Add(root.Host, rules)
	return rules
}

// fetchRobots downloads and parses robots.txt. Any failure to fetch reads
// as "no restrictions".
func (s *Scraper) fetchRobots(ctx context.Context, root *url.URL) *robotsRules {
	robotsURL := root.Scheme + "://" + root.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &robotsRules{}
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return &robotsRules{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &robotsRules{}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return &robotsRules{}
	}
	return parseRobots(string(body), strings.ToLower(s.userAgent))
}

// robotsRules holds the Disallow prefixes that apply to this crawler.
type robotsRules struct {
	disallow []string
}

func (r *robotsRules) allowed(p string) bool {
	if p == "" {
		p = "/"
	}
	for _, prefix := range r.disallow {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	return true
}

// parseRobots reads the groups of a robots.txt. A group naming this agent
// overrides the wildcard group.
func parseRobots(body, agent string) *robotsRules {
	var (
		star, specific []string
		groupAgents    []string
		collecting     bool
		hasSpecific    bool
	)

	for _, raw := range strings.Split(body, "\n") {
		line := raw
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if !collecting {
				groupAgents = groupAgents[:0]
			}
			collecting = true
			name := strings.ToLower(value)
			groupAgents = append(groupAgents, name)
			if name != "*" && strings.Contains(agent, name) {
				hasSpecific = true
			}
		case "disallow":
			collecting = false
			if value == "" {
				continue
			}
			for _, name := range groupAgents {
				if name == "*" {
					star = append(star, value)
				} else if strings.Contains(agent, name) {
					specific = append(specific, value)
				}
			}
		default:
			collecting = false
		}
	}

	if hasSpecific {
		return &robotsRules{disallow: specific}
	}
	return &robotsRules{disallow: star}
}

func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawQuery = ""
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

// extractLinks pulls anchor targets out of an HTML page, resolved against
// the page URL.
func extractLinks(body []byte, base *url.URL) []*url.URL {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []*url.URL
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					continue
				}
				links = append(links, base.ResolveReference(ref))
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
