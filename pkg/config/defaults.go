package config

// DefaultGlobalResolvers 全球 DoH 上游
func DefaultGlobalResolvers() []Resolver {
	return []Resolver{
		{Name: "cloudflare", URL: "https://cloudflare-dns.com/dns-query"},
		{Name: "cloudflare-1.1.1.1", URL: "https://1.1.1.1/dns-query"},
		{Name: "google", URL: "https://dns.google/dns-query"},
		{Name: "google-json", URL: "https://dns.google/resolve", Format: "json"},
		{Name: "quad9", URL: "https://dns.quad9.net/dns-query"},
		{Name: "quad9-unfiltered", URL: "https://dns10.quad9.net/dns-query"},
		{Name: "adguard", URL: "https://unfiltered.adguard-dns.com/dns-query"},
		{Name: "opendns", URL: "https://doh.opendns.com/dns-query"},
		{Name: "controld", URL: "https://freedns.controld.com/p0"},
		{Name: "mullvad", URL: "https://dns.mullvad.net/dns-query"},
		{Name: "nextdns", URL: "https://dns.nextdns.io/dns-query"},
		{Name: "dnssb", URL: "https://doh.dns.sb/dns-query"},
		{Name: "wikimedia", URL: "https://wikimedia-dns.org/dns-query"},
		{Name: "switch", URL: "https://dns.switch.ch/dns-query"},
		{Name: "dns0", URL: "https://dns0.eu/"},
		{Name: "cira", URL: "https://private.canadianshield.cira.ca/dns-query"},
		{Name: "restena", URL: "https://kaitain.restena.lu/dns-query"},
		{Name: "digitale-gesellschaft", URL: "https://dns.digitale-gesellschaft.ch/dns-query"},
		{Name: "nic-cz", URL: "https://odvr.nic.cz/doh"},
		{Name: "cloudflare-json", URL: "https://cloudflare-dns.com/dns-query", Format: "json"},
	}
}

// DefaultDomesticResolvers 国内 DoH 上游
func DefaultDomesticResolvers() []Resolver {
	return []Resolver{
		{Name: "alidns", URL: "https://dns.alidns.com/dns-query"},
		{Name: "alidns-json", URL: "https://dns.alidns.com/resolve", Format: "json"},
		{Name: "dnspod", URL: "https://doh.pub/dns-query"},
		{Name: "dnspod-sm2", URL: "https://sm2.doh.pub/dns-query"},
		{Name: "360", URL: "https://doh.360.cn/dns-query"},
		{Name: "onedns", URL: "https://doh-pure.onedns.net/dns-query"},
	}
}

// DefaultWhoisKeywords WHOIS 原文中表示“未注册”的关键字，大小写不敏感
func DefaultWhoisKeywords() []string {
	return []string{
		"no match for",
		"does not exist",
		"not found",
		"no found",
		"no entries",
		"no data found",
		"is available for registration",
		"currently available for application",
		"no matching record",
		"no information available",
		"domain not found",
		"status: free",
		"this domain name has not been registered",
		"the queried object does not exist",
	}
}
