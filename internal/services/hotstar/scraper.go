// Package hotstar scrapes a news listing page for today's episode articles
// of the configured serials. Each matching article card becomes one episode
// candidate keyed by the card's stable article id.
package hotstar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"serialreel/internal/catalog"
	"serialreel/internal/config"
	"serialreel/internal/logging"
	"serialreel/internal/services"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Article titles carry the episode date as e.g. "February 3rd Episode".
var episodeDatePattern = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d+)(st|nd|rd|th)\s+Episode`)

var slugStripPattern = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)
var slugSpacePattern = regexp.MustCompile(`\s+`)

// Scraper lists episode candidates from the configured listing page.
type Scraper struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Scraper from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scraper{
		baseURL: cfg.Scraper.BaseURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.Scraper.RequestTimeout) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "hotstar"),
		now:    time.Now,
	}
}

// ListEpisodes fetches the listing page and returns candidates whose article
// title names the serial and today's date. An empty result is a successful
// scrape; the serial simply has no new episode yet.
func (s *Scraper) ListEpisodes(ctx context.Context, serial config.Serial) ([]catalog.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrRejected, "hotstar", "list", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "te-IN,te;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, services.ClassifyNetworkError("hotstar", "list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrTransient, "hotstar", "list",
			fmt.Sprintf("listing returned status %d", resp.StatusCode), nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "hotstar", "list", "parse listing html", err)
	}

	today := s.now()
	var candidates []catalog.Candidate
	doc.Find("div.infinite-scroll-component div.topicList").Each(func(_ int, card *goquery.Selection) {
		articleID, ok := card.Attr("id")
		if !ok || articleID == "" {
			return
		}
		title := strings.TrimSpace(card.Find("h2.listingNewsCont div").First().Text())
		if title == "" {
			return
		}
		if !titleMatchesSerial(title, serial) {
			return
		}
		if !titleIsForDate(title, today) {
			return
		}
		candidates = append(candidates, catalog.Candidate{
			NativeID:  articleID,
			Title:     title,
			SourceURL: s.articleURL(serial, title, articleID),
		})
	})

	s.logger.Debug("listing scraped",
		logging.String(logging.FieldSerialID, serial.ID),
		logging.Int("candidates", len(candidates)))
	return candidates, nil
}

func titleMatchesSerial(title string, serial config.Serial) bool {
	lower := strings.ToLower(title)
	if !strings.Contains(lower, strings.ToLower(serial.Name)) &&
		!strings.Contains(lower, slugify(serial.Name)) {
		return false
	}
	return strings.Contains(lower, "episode")
}

// titleIsForDate checks the "February 3rd Episode" fragment against the
// given day, so stale listings never produce duplicate work.
func titleIsForDate(title string, day time.Time) bool {
	match := episodeDatePattern.FindStringSubmatch(title)
	if match == nil {
		return false
	}
	want := fmt.Sprintf("%s %d%s", day.Month().String(), day.Day(), ordinalSuffix(day.Day()))
	got := fmt.Sprintf("%s %s%s", match[1], match[2], match[3])
	return strings.EqualFold(got, want)
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// articleURL reconstructs the article's canonical address from the listing
// card, mirroring the site's slug scheme.
func (s *Scraper) articleURL(serial config.Serial, title, articleID string) string {
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return ""
	}
	serialSlug := slugify(serial.Name)
	titleSlug := slugify(title)

	match := episodeDatePattern.FindStringSubmatch(title)
	dateSlug := ""
	if match != nil {
		dateSlug = strings.ToLower(match[1] + "-" + match[2] + match[3])
	}

	path := fmt.Sprintf("/entertainment/%s-serial-today-episode-%s-%s-%s-%s.html",
		serialSlug, dateSlug, titleSlug, serialSlug, articleID)
	return base.Scheme + "://" + base.Host + path
}

func slugify(value string) string {
	value = slugStripPattern.ReplaceAllString(strings.ToLower(value), "")
	return slugSpacePattern.ReplaceAllString(strings.TrimSpace(value), "-")
}
