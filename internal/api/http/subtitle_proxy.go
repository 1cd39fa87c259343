package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dramastream/internal/httpx"
	"dramastream/internal/metrics"
	"dramastream/internal/subtitle"
)

const (
	maxSubtitleBytes       = int64(2 << 20)
	defaultSubtitleTimeout = 12 * time.Second
	maxSubtitleRedirects   = 5
)

// DefaultSubtitleHosts are the subtitle CDNs allowed when none are configured.
var DefaultSubtitleHosts = []string{
	"dramaboxdb.com",
	"dramabox.com",
	"sansekai.my.id",
}

var (
	errSubtitleURL    = errors.New("url must be an absolute http(s) url")
	errSubtitleHost   = errors.New("subtitle host is not allowed")
	errSubtitleStatus = errors.New("subtitle upstream returned an error")
)

type SubtitleProxyConfig struct {
	// AllowedHosts are matched exactly or as a parent domain. Empty means DefaultSubtitleHosts.
	AllowedHosts []string
	Timeout      time.Duration
	Transport    http.RoundTripper
	Retry        httpx.RetryConfig
}

type subtitleProxy struct {
	allowedHosts []string
	client       *http.Client
	retry        httpx.RetryConfig
}

func newSubtitleProxy(cfg SubtitleProxyConfig) *subtitleProxy {
	hosts := make([]string, 0, len(cfg.AllowedHosts))
	for _, host := range cfg.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		host = strings.TrimPrefix(host, ".")
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		hosts = append(hosts, DefaultSubtitleHosts...)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSubtitleTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = httpx.NewTransport()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = httpx.DefaultRetryConfig()
	}

	proxy := &subtitleProxy{allowedHosts: hosts, retry: cfg.Retry}
	proxy.client = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxSubtitleRedirects {
				return fmt.Errorf("stopped after %d redirects", maxSubtitleRedirects)
			}
			if req.URL == nil {
				return errors.New("redirect missing url")
			}
			return proxy.validate(req.URL)
		},
	}
	return proxy
}

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	target, err := url.Parse(raw)
	if raw == "" || err != nil || !target.IsAbs() {
		metrics.SubtitleProxyTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, errSubtitleURL.Error())
		return
	}
	if err := s.subtitles.validate(target); err != nil {
		if errors.Is(err, errSubtitleHost) {
			metrics.SubtitleProxyTotal.WithLabelValues("forbidden").Inc()
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		metrics.SubtitleProxyTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := s.subtitles.fetch(r.Context(), target)
	if err != nil {
		metrics.SubtitleProxyTotal.WithLabelValues("upstream_error").Inc()
		s.logger.Warn("subtitle fetch failed",
			slog.String("host", target.Hostname()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to fetch subtitle")
		return
	}

	metrics.SubtitleProxyTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", subtitle.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, subtitle.ToVTT(body))
}

func (p *subtitleProxy) fetch(ctx context.Context, target *url.URL) ([]byte, error) {
	var body []byte
	err := httpx.Retry(ctx, p.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", httpx.UserAgent)
		req.Header.Set("Accept", "text/vtt, application/x-subrip, text/plain, */*;q=0.5")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("%w: %w", errSubtitleStatus, &httpx.StatusError{Code: resp.StatusCode})
		}
		if resp.ContentLength > maxSubtitleBytes {
			return fmt.Errorf("subtitle too large: %d bytes", resp.ContentLength)
		}
		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxSubtitleBytes))
		if err != nil {
			return err
		}
		body = payload
		return nil
	})
	return body, err
}

// validate enforces the scheme, the host allow-list, and rejects literal private addresses.
func (p *subtitleProxy) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return errSubtitleURL
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return errSubtitleURL
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return errSubtitleHost
	}
	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return errSubtitleHost
	}
	for _, allowed := range p.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return errSubtitleHost
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
