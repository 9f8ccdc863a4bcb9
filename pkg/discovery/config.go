package discovery

import "github.com/kadds/job-judge/pkg/config"

// New picks the file provider when cfg.File is set, otherwise DNS.
func New(cfg config.DiscoveryConfig) Provider {
	if cfg.File != "" {
		return NewFileProvider(cfg.File)
	}
	return NewDNSProvider(cfg.Suffix, cfg.NameServer)
}
