package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
)

// Service fetches and post-processes web content for the fetch and links
// operations.
type Service struct {
	client *resty.Client
	logger *logrus.Entry
}

// NewService builds the shared HTTP client: browser User-Agent, request
// timeout from config, bounded redirects.
func NewService(cfg *config.Config) *Service {
	client := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Service{
		client: client,
		logger: logrus.WithField("component", "web"),
	}
}

// GetPage fetches a URL and returns its trimmed body. Every failure shape
// names the URL because the message surfaces directly as tool output.
func (s *Service) GetPage(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		switch {
		case isTimeout(err):
			return "", fmt.Errorf("Timeout while fetching %s: %v", pageURL, err)
		case strings.Contains(err.Error(), "stopped after"):
			return "", fmt.Errorf("Too many redirects while fetching %s: %v", pageURL, err)
		default:
			return "", fmt.Errorf("Failed to connect to %s: %v", pageURL, err)
		}
	}

	body := strings.TrimSpace(resp.String())
	if resp.IsSuccess() {
		if body != "" {
			s.logger.WithFields(logrus.Fields{
				"url":   pageURL,
				"bytes": len(body),
			}).Debug("Page fetched")
			return body, nil
		}
		return "", fmt.Errorf("Failed to fetch %s: HTTP %d with empty body", pageURL, resp.StatusCode())
	}

	return "", fmt.Errorf("Failed to fetch %s: HTTP %d (%s)", pageURL, resp.StatusCode(), http.StatusText(resp.StatusCode()))
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
