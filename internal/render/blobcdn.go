package render

import (
	"net/url"
	"strings"
)

const blobHostSuffix = ".blob.core.windows.net"

// DefaultCDNAccounts are the storage accounts fronted by a CDN endpoint.
var DefaultCDNAccounts = []string{"naipeuwest"}

// CDNRewriter rewrites blob storage hrefs to their CDN host when the
// storage account has one. It is immutable and safe for concurrent use.
type CDNRewriter struct {
	accounts map[string]struct{}
}

func NewCDNRewriter(accounts ...string) *CDNRewriter {
	m := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		m[a] = struct{}{}
	}
	return &CDNRewriter{accounts: m}
}

// Transform returns href with "blob.core.windows" swapped for "azureedge"
// in the host when the account is CDN enabled. Anything else is returned as is.
func (c *CDNRewriter) Transform(href string) string {
	if c == nil || len(c.accounts) == 0 {
		return href
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return href
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, blobHostSuffix) {
		return href
	}
	account := strings.TrimSuffix(host, blobHostSuffix)
	if account == "" || strings.Contains(account, ".") {
		return href
	}
	if _, ok := c.accounts[account]; !ok {
		return href
	}

	// only touch the authority so a path embedding the same text is kept;
	// the host is rebuilt from its parts so upper-case hosts match too
	name := u.Hostname()
	at := strings.Index(href, u.Host)
	if at < 0 || len(name) != len(host) {
		return href
	}
	cdnHost := name[:len(account)] + ".azureedge.net" + u.Host[len(name):]
	return href[:at] + cdnHost + href[at+len(u.Host):]
}

func (c *CDNRewriter) TransformAll(hrefs []string) []string {
	out := make([]string, len(hrefs))
	for i, h := range hrefs {
		out[i] = c.Transform(h)
	}
	return out
}
