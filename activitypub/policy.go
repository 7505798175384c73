package activitypub

import (
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
)

// Policy is the federation policy snapshot: blocked domains and content
// filters loaded from the database, plus the static allow-list and
// local-network gate from config. The snapshot is refreshed lazily, at
// most once per refresh interval, so the hot path stays on in-memory
// lookups.
type Policy struct {
	db   *db.DB
	conf *util.AppConfig

	mu          sync.RWMutex
	blocked     map[string]bool
	phrases     []string
	lastRefresh time.Time
	refreshes   int

	refreshEvery time.Duration
}

func NewPolicy(database *db.DB, conf *util.AppConfig) *Policy {
	p := &Policy{
		db:           database,
		conf:         conf,
		blocked:      make(map[string]bool),
		refreshEvery: time.Duration(conf.Conf.BlockRefreshSec) * time.Second,
	}
	p.Refresh()
	return p
}

// Refresh reloads the snapshot from the database unconditionally.
func (p *Policy) Refresh() {
	blocked := make(map[string]bool)
	if err, rows := p.db.ReadBlockedDomains(); err != nil {
		log.Printf("Policy: could not load blocked domains: %v", err)
	} else if rows != nil {
		for _, row := range *rows {
			blocked[strings.ToLower(row.Domain)] = true
		}
	}

	var phrases []string
	if err, rows := p.db.ReadFilteredPhrases(); err != nil {
		log.Printf("Policy: could not load filtered phrases: %v", err)
	} else if rows != nil {
		for _, row := range *rows {
			phrases = append(phrases, strings.ToLower(row.Phrase))
		}
	}

	p.mu.Lock()
	p.blocked = blocked
	p.phrases = phrases
	p.lastRefresh = time.Now()
	p.refreshes++
	p.mu.Unlock()
}

func (p *Policy) refreshIfStale() {
	p.mu.RLock()
	stale := time.Since(p.lastRefresh) >= p.refreshEvery
	p.mu.RUnlock()
	if stale {
		p.Refresh()
	}
}

// Refreshes reports how many times the snapshot was rebuilt.
func (p *Policy) Refreshes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshes
}

// IsBlockedDomain reports whether the domain is on the blocklist.
// Subdomains of a blocked domain are blocked too.
func (p *Policy) IsBlockedDomain(domainName string) bool {
	p.refreshIfStale()

	domainName = strings.ToLower(domainName)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.blocked[domainName] {
		return true
	}
	for blocked := range p.blocked {
		if strings.HasSuffix(domainName, "."+blocked) {
			return true
		}
	}
	return false
}

// IsPermittedActor applies the federation allow-list. An empty list
// means open federation.
func (p *Policy) IsPermittedActor(actorURI string) bool {
	allowed := p.conf.Conf.FederationDomains
	if len(allowed) == 0 {
		return true
	}

	actorDomain, err := extractDomain(actorURI)
	if err != nil {
		return false
	}
	actorDomain = strings.ToLower(actorDomain)
	for _, entry := range allowed {
		entry = strings.ToLower(entry)
		if actorDomain == entry || strings.HasSuffix(actorDomain, "."+entry) {
			return true
		}
	}
	return false
}

// IsFiltered reports whether the content matches a filtered phrase.
func (p *Policy) IsFiltered(content string) bool {
	p.refreshIfStale()

	content = strings.ToLower(content)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, phrase := range p.phrases {
		if phrase != "" && strings.Contains(content, phrase) {
			return true
		}
	}
	return false
}

// BlockDomain adds a domain to the blocklist and rebuilds the snapshot
// immediately so moderation takes effect without waiting out the
// refresh interval.
func (p *Policy) BlockDomain(domainName, reason string) error {
	if err := p.db.CreateBlockedDomain(strings.ToLower(domainName), reason); err != nil {
		return err
	}
	p.Refresh()
	return nil
}

func (p *Policy) UnblockDomain(domainName string) error {
	if err := p.db.DeleteBlockedDomain(strings.ToLower(domainName)); err != nil {
		return err
	}
	p.Refresh()
	return nil
}

func (p *Policy) AddFilteredPhrase(phrase string) error {
	if err := p.db.CreateFilteredPhrase(strings.ToLower(phrase)); err != nil {
		return err
	}
	p.Refresh()
	return nil
}

// BlockedDomains returns a sorted-by-insertion snapshot for display.
func (p *Policy) BlockedDomains() []string {
	p.refreshIfStale()
	p.mu.RLock()
	defer p.mu.RUnlock()
	domains := make([]string, 0, len(p.blocked))
	for blocked := range p.blocked {
		domains = append(domains, blocked)
	}
	return domains
}

// IsLocalAddress reports whether the host points into loopback or
// private address space. Hostnames are not resolved; a name that is not
// a literal address only matches the loopback names.
func IsLocalAddress(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
