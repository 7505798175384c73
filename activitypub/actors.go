package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

const userAgent = "mammut/0.1 ActivityPub"

// changedActorTimeout bounds the opportunistic refresh so interactive
// callers never hang on a slow peer.
const changedActorTimeout = 3 * time.Second

// ErrActorKeyMissing marks a permanent key failure: the actor document
// was fetched successfully but carries no usable key. Items failing
// this way are dropped, not retried.
var ErrActorKeyMissing = errors.New("actor has no public key")

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ActorCache caches remote actor documents: an in-memory map in front
// of the sqlite rows. Entries older than maxAge count as misses, so
// verification never trusts a key the origin may have rotated away.
type ActorCache struct {
	mu      sync.RWMutex
	entries map[string]*domain.RemoteAccount
	maxAge  time.Duration
	db      *db.DB
}

func NewActorCache(database *db.DB, maxAge time.Duration) *ActorCache {
	return &ActorCache{
		entries: make(map[string]*domain.RemoteAccount),
		maxAge:  maxAge,
		db:      database,
	}
}

// Get returns a fresh cached actor or nil. Stale entries are misses.
func (c *ActorCache) Get(actorURI string) *domain.RemoteAccount {
	c.mu.RLock()
	cached, ok := c.entries[actorURI]
	c.mu.RUnlock()
	if ok && time.Since(cached.LastFetchedAt) < c.maxAge {
		return cached
	}

	err, row := c.db.ReadRemoteAccountByURI(actorURI)
	if err != nil || row == nil {
		return nil
	}
	c.mu.Lock()
	c.entries[actorURI] = row
	c.mu.Unlock()
	if time.Since(row.LastFetchedAt) < c.maxAge {
		return row
	}
	return nil
}

func (c *ActorCache) store(actor *domain.RemoteAccount) {
	c.mu.Lock()
	c.entries[actor.ActorURI] = actor
	c.mu.Unlock()
}

// GetOrFetch returns the cached actor or fetches a fresh document.
func (c *ActorCache) GetOrFetch(ctx context.Context, session *http.Client, actorURI string) (*domain.RemoteAccount, error) {
	if cached := c.Get(actorURI); cached != nil {
		return cached, nil
	}
	return c.Fetch(ctx, session, actorURI)
}

// Fetch retrieves the actor document from its origin and persists it.
func (c *ActorCache) Fetch(ctx context.Context, session *http.Client, actorURI string) (*domain.RemoteAccount, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	if actor.PublicKey.PublicKeyPem == "" {
		return nil, ErrActorKeyMissing
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	remoteAcc := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       actor.PreferredUsername,
		Domain:         domainName,
		ActorURI:       actor.ID,
		DisplayName:    actor.Name,
		Summary:        actor.Summary,
		InboxURI:       actor.Inbox,
		OutboxURI:      actor.Outbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		AvatarURL:      actor.Icon.URL,
		LastFetchedAt:  time.Now(),
	}

	// Reuse the row id on refresh so follows keep pointing at it.
	if err, existing := c.db.ReadRemoteAccountByURI(actor.ID); err == nil && existing != nil {
		remoteAcc.Id = existing.Id
		if err := c.db.UpdateRemoteAccount(remoteAcc); err != nil {
			return nil, fmt.Errorf("failed to store remote account: %w", err)
		}
	} else if err := c.db.CreateRemoteAccount(remoteAcc); err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}

	c.store(remoteAcc)
	return remoteAcc, nil
}

// GetPublicKey resolves the actor's signing key. Fail-closed: any
// resolution failure means the caller must not verify. A fetch error is
// transient; a fetched actor without a key is permanent
// (ErrActorKeyMissing).
func (c *ActorCache) GetPublicKey(ctx context.Context, session *http.Client, actorURI string) (string, error) {
	actor, err := c.GetOrFetch(ctx, session, actorURI)
	if err != nil {
		return "", err
	}
	if actor.PublicKeyPem == "" {
		return "", ErrActorKeyMissing
	}
	return actor.PublicKeyPem, nil
}

// CheckForChangedActor opportunistically refreshes an actor document,
// bounded by a short timeout. Failures only log; the cached entry
// stays authoritative until a successful refresh replaces it.
func (c *ActorCache) CheckForChangedActor(session *http.Client, actorURI string) {
	ctx, cancel := context.WithTimeout(context.Background(), changedActorTimeout)
	defer cancel()

	if _, err := c.Fetch(ctx, session, actorURI); err != nil {
		log.Printf("Actors: refresh of %s failed: %v", actorURI, err)
	}
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) > 0 {
		username := parts[len(parts)-1]
		return strings.TrimPrefix(username, "@")
	}
	return ""
}
