package domain

import (
	"github.com/google/uuid"
	"time"
)

// SharedInbox is the sentinel account nickname for activities posted to
// the domain-wide inbox rather than a specific user inbox.
const SharedInbox = "@shared"

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	OutboxURI      string
	SharedInboxURI string
	PublicKeyPem   string
	AvatarURL      string
	LastFetchedAt  time.Time
}

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // Can be local or remote account
	TargetAccountId uuid.UUID // Can be local or remote account
	URI             string    // ActivityPub Follow activity URI
	CreatedAt       time.Time
	Accepted        bool
}

// Activity represents an ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// CapturedHeaders holds the request headers an inbound activity arrived
// with. They are persisted with the queue item so the worker can verify
// the HTTP signature after the original request has been answered.
type CapturedHeaders struct {
	Host           string `json:"host"`
	Signature      string `json:"signature,omitempty"`
	SignatureInput string `json:"signatureInput,omitempty"`
	Digest         string `json:"digest,omitempty"`
	Date           string `json:"date,omitempty"`
	ContentType    string `json:"contentType"`
	ContentLength  string `json:"contentLength,omitempty"`
	CollectionSync string `json:"collectionSync,omitempty"`
}

// QueuedActivity is one durably persisted unit of inbound work.
type QueuedActivity struct {
	Id        uuid.UUID
	Account   string // target nickname, or SharedInbox
	Path      string // request path, part of the signing string
	Body      string
	Headers   CapturedHeaders
	Retries   int
	ArrivedAt time.Time
}

// BlockedDomain is a moderation entry gating both admission and delivery
type BlockedDomain struct {
	Id        uuid.UUID
	Domain    string
	Reason    string
	CreatedAt time.Time
}

// FilteredPhrase drops inbound activities whose content matches
type FilteredPhrase struct {
	Id     uuid.UUID
	Phrase string
}

// SendLogEntry records the outcome of one outbound delivery attempt
type SendLogEntry struct {
	Id         uuid.UUID
	Username   string
	InboxURI   string
	StatusCode int
	Error      string
	CreatedAt  time.Time
}
