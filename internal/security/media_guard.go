package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/hitoshi/estate/internal/model"
)

// MediaChecker は物件画像URLの検証インターフェース。
type MediaChecker interface {
	// CheckImageURL はURLが公開ホスト上の画像を指すことを検証する。
	CheckImageURL(ctx context.Context, rawURL string) error
}

// allowedSchemes は画像URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は画像URLとして拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// MediaGuard は画像URLを静的に検証し、設定されていればHEADリクエストで実在を確認する。
// HEADリクエストはsafeurlのクライアントで送信するため、DNS解決後のプライベートIPも拒否される。
type MediaGuard struct {
	client *http.Client
}

// NewMediaGuard はMediaGuardを生成する。probeTimeoutが0の場合はHEADリクエストを行わない。
func NewMediaGuard(probeTimeout time.Duration) *MediaGuard {
	if probeTimeout <= 0 {
		return &MediaGuard{}
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(probeTimeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return &MediaGuard{client: safeurl.Client(config).Client}
}

// NewMediaGuardWithClient は任意のHTTPクライアントで確認するMediaGuardを生成する。
func NewMediaGuardWithClient(client *http.Client) *MediaGuard {
	return &MediaGuard{client: client}
}

// CheckImageURL は画像URLを検証する。不正な場合はUNSAFE_MEDIA_URLエラーを返す。
func (g *MediaGuard) CheckImageURL(ctx context.Context, rawURL string) error {
	if err := validateMediaURL(rawURL); err != nil {
		apiErr := model.NewUnsafeMediaURLError(rawURL)
		apiErr.Err = err
		return apiErr
	}
	if g.client == nil {
		return nil
	}

	if err := g.probe(ctx, rawURL); err != nil {
		apiErr := model.NewUnsafeMediaURLError(rawURL)
		apiErr.Err = err
		return apiErr
	}
	return nil
}

func (g *MediaGuard) probe(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return fmt.Errorf("not an image: %q", ct)
	}
	return nil
}

// validateMediaURL はDNS解決を伴わない静的な検証を行う。
func validateMediaURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}
	return nil
}

// compile-time interface check
var _ MediaChecker = (*MediaGuard)(nil)
