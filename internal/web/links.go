package web

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links fetches a page and lists its internal links, most frequent first and
// first appearance breaking ties. Each URL is labeled with the first
// non-empty anchor text seen for it.
func (s *Service) Links(ctx context.Context, pageURL string, maxLinks int, titles bool) (string, error) {
	htmlBody, err := s.GetPage(ctx, pageURL)
	if err != nil {
		return "", err
	}

	ordered, texts := parseLinks(htmlBody, pageURL)
	if len(ordered) == 0 {
		return "", fmt.Errorf("No links read on %s - it may require JavaScript or authentication.", pageURL)
	}

	total := len(ordered)
	shown := total
	if maxLinks < total {
		shown = maxLinks
	}

	header := fmt.Sprintf("All %d links found on %s", total, pageURL)
	if shown < total {
		header = fmt.Sprintf("%d of the %d links found on %s", shown, total, pageURL)
	}

	lines := make([]string, 0, shown+1)
	lines = append(lines, header+"\n")
	for _, link := range ordered[:shown] {
		if titles {
			lines = append(lines, fmt.Sprintf("- %s: %s", texts[link], link))
		} else {
			lines = append(lines, "- "+link)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// parseLinks extracts the page's internal links. It returns the unique URLs
// sorted by frequency then document order, plus each URL's first non-empty
// anchor text.
func parseLinks(htmlBody, baseURL string) ([]string, map[string]string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil, nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil
	}

	seen := 0
	firstIndex := make(map[string]int)
	counts := make(map[string]int)
	texts := make(map[string]string)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		resolved := parseLink(href, base)
		if resolved == "" {
			return
		}

		if _, ok := firstIndex[resolved]; !ok {
			firstIndex[resolved] = seen
		}
		seen++
		counts[resolved]++
		if texts[resolved] == "" {
			texts[resolved] = collapseSpace(a.Text())
		}
	})

	unique := make([]string, 0, len(counts))
	for link := range counts {
		unique = append(unique, link)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return firstIndex[unique[i]] < firstIndex[unique[j]]
	})
	return unique, texts
}

// parseLink resolves an anchor href the way the crawler treats links:
// root-relative paths stay on the page's host, absolute URLs must be
// internal, everything else resolves against the page.
func parseLink(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}

	if strings.HasPrefix(href, "/") {
		return base.Scheme + "://" + base.Host + href
	}

	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		parsed, err := url.Parse(href)
		if err != nil || parsed.Host != base.Host {
			return ""
		}
		return href
	}

	resolved, err := base.Parse(href)
	if err != nil {
		return ""
	}
	return resolved.String()
}
