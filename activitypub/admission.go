package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// slowWriteWarn is the threshold above which a queue persist is logged.
// Admission must stay low constant time; a slow disk is worth knowing
// about but never fails the request.
const slowWriteWarn = 200 * time.Millisecond

// activityStreamsContext is the linked-data context every inbound
// activity must carry.
const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// toSynthesisTypes are the activity types that get a "to" field
// synthesized when the sender omitted one. Several fediverse servers
// omit it on these types; downstream handling is simpler when it is
// always present. This is policy, not protocol.
var toSynthesisTypes = map[string]bool{
	"Follow": true,
	"Like":   true,
	"Add":    true,
	"Remove": true,
	"Ignore": true,
}

var stringFields = []string{"id", "type", "published", "actor"}
var objectStringFields = []string{"content", "summary", "url", "attributedTo"}
var listFields = []string{"to", "cc", "attachment"}

// HandleInbox admits an inbound activity POSTed to a user inbox or the
// shared inbox (username == domain.SharedInbox). It validates shape and
// policy, enforces the queue bound and persists the item; signature
// verification happens later, in the queue worker.
func (e *Engine) HandleInbox(w http.ResponseWriter, r *http.Request, username string) {
	if e.Queue.Restarting() {
		http.Error(w, "Queue restart in progress", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	if err := ValidateActivityShape(activity); err != nil {
		log.Printf("Inbox: Rejected activity: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.Header.Get("Signature") == "" && r.Header.Get("Signature-Input") == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	// The digest must match the bytes as received, before any "to"
	// synthesis rewrites the stored body. Signature verification in the
	// worker covers headers only, so it is unaffected by the rewrite.
	if err := CheckDigest(r.Header.Get("Digest"), body); err != nil {
		log.Printf("Inbox: Digest mismatch: %v", err)
		http.Error(w, "Digest mismatch", http.StatusUnauthorized)
		return
	}

	actorURI := activity["actor"].(string)
	actorDomain, err := extractDomain(actorURI)
	if err != nil {
		http.Error(w, "Invalid actor", http.StatusBadRequest)
		return
	}

	if e.Policy.IsBlockedDomain(actorDomain) {
		log.Printf("Inbox: Rejected activity from blocked domain %s", actorDomain)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if !e.Policy.IsPermittedActor(actorURI) {
		log.Printf("Inbox: Rejected actor %s outside federation list", actorURI)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if IsLocalAddress(actorDomain) && !e.conf.Conf.AllowLocalNetwork {
		log.Printf("Inbox: Rejected local-network actor %s", actorURI)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if e.Queue.Full() {
		// Backpressure: shed the whole backlog and restart the queue
		// rather than letting it grow without bound.
		log.Printf("Inbox: Queue full (%d items), draining and restarting", e.Queue.Len())
		if err := e.Queue.Drain(); err != nil {
			log.Printf("Inbox: Drain failed: %v", err)
		}
		http.Error(w, "Queue full", http.StatusServiceUnavailable)
		return
	}

	// Route shared-inbox traffic to a concrete local account when the
	// addressing makes that possible without network I/O.
	if username == domain.SharedInbox {
		if resolved := e.resolveSharedTarget(activity); resolved != "" {
			username = resolved
		}
	}

	if AddToField(activity) {
		if reencoded, err := json.Marshal(activity); err == nil {
			body = reencoded
		}
	}

	item := &domain.QueuedActivity{
		Id:      uuid.New(),
		Account: username,
		Path:    r.URL.Path,
		Body:    string(body),
		Headers: domain.CapturedHeaders{
			Host:           r.Host,
			Signature:      r.Header.Get("Signature"),
			SignatureInput: r.Header.Get("Signature-Input"),
			Digest:         r.Header.Get("Digest"),
			Date:           r.Header.Get("Date"),
			ContentType:    r.Header.Get("Content-Type"),
			ContentLength:  r.Header.Get("Content-Length"),
			CollectionSync: r.Header.Get("Collection-Synchronization"),
		},
		ArrivedAt: time.Now(),
	}

	start := time.Now()
	if err := e.Queue.Append(item); err != nil {
		log.Printf("Inbox: Failed to persist queue item: %v", err)
		http.Error(w, "Failed to queue", http.StatusInternalServerError)
		return
	}
	if elapsed := time.Since(start); elapsed > slowWriteWarn {
		log.Printf("Inbox: Slow queue write (%s) for %v", elapsed, activity["type"])
	}

	w.WriteHeader(http.StatusCreated)
}

// ValidateActivityShape fails fast on structurally broken activities so
// they never reach the queue.
func ValidateActivityShape(activity map[string]interface{}) error {
	if !hasRecognizedContext(activity["@context"]) {
		return fmt.Errorf("missing or unrecognized @context")
	}

	actor, ok := activity["actor"].(string)
	if !ok {
		return fmt.Errorf("actor missing or not a string")
	}
	if !strings.Contains(actor, "://") || !strings.Contains(actor, ".") {
		return fmt.Errorf("actor is not a URL")
	}

	for _, field := range stringFields {
		if value, present := activity[field]; present {
			if _, ok := value.(string); !ok {
				return fmt.Errorf("field %q must be a string", field)
			}
		}
	}

	for _, field := range listFields {
		if value, present := activity[field]; present {
			if _, ok := value.([]interface{}); !ok {
				return fmt.Errorf("field %q must be a list", field)
			}
		}
	}

	if object, ok := activity["object"].(map[string]interface{}); ok {
		for _, field := range objectStringFields {
			if value, present := object[field]; present {
				if _, ok := value.(string); !ok {
					return fmt.Errorf("object field %q must be a string", field)
				}
			}
		}
		for _, field := range listFields {
			if value, present := object[field]; present {
				if _, ok := value.([]interface{}); !ok {
					return fmt.Errorf("object field %q must be a list", field)
				}
			}
		}
	}

	return nil
}

func hasRecognizedContext(context interface{}) bool {
	switch ctx := context.(type) {
	case string:
		return strings.HasPrefix(ctx, activityStreamsContext)
	case []interface{}:
		for _, entry := range ctx {
			if s, ok := entry.(string); ok && strings.HasPrefix(s, activityStreamsContext) {
				return true
			}
		}
	}
	return false
}

// AddToField synthesizes a "to" field for the activity types that
// commonly arrive without one. Idempotent: an existing "to" is never
// touched. Returns true when the activity was modified.
func AddToField(activity map[string]interface{}) bool {
	activityType, _ := activity["type"].(string)
	if !toSynthesisTypes[activityType] {
		return false
	}
	if _, present := activity["to"]; present {
		return false
	}

	var recipient string
	switch object := activity["object"].(type) {
	case string:
		recipient = object
	case map[string]interface{}:
		if attributedTo, ok := object["attributedTo"].(string); ok {
			recipient = attributedTo
		} else if id, ok := object["id"].(string); ok {
			recipient = id
		}
	}
	if recipient == "" {
		recipient, _ = activity["actor"].(string)
	}
	if recipient == "" {
		return false
	}

	activity["to"] = []interface{}{recipient}
	return true
}

// resolveSharedTarget maps a shared-inbox activity to a local account
// nickname by inspecting its addressing, falling back to local
// followers of the sending actor. Returns "" when no target is found.
func (e *Engine) resolveSharedTarget(activity map[string]interface{}) string {
	localDomain := e.conf.Conf.SslDomain

	fromURI := func(uri string) string {
		if !strings.Contains(uri, localDomain) || !strings.Contains(uri, "/users/") {
			return ""
		}
		parts := strings.Split(uri, "/")
		for i, part := range parts {
			if part == "users" && i+1 < len(parts) {
				return parts[i+1]
			}
		}
		return ""
	}

	for _, field := range []string{"to", "cc"} {
		if list, ok := activity[field].([]interface{}); ok {
			for _, entry := range list {
				if uri, ok := entry.(string); ok {
					if username := fromURI(uri); username != "" {
						return username
					}
				}
			}
		}
	}

	if objectURI, ok := activity["object"].(string); ok {
		if username := fromURI(objectURI); username != "" {
			return username
		}
	}

	// Create/Update/Delete carry no local addressing; route to the
	// first local follower of the sending actor.
	if actorURI, ok := activity["actor"].(string); ok {
		err, remoteActor := e.db.ReadRemoteAccountByURI(actorURI)
		if err != nil || remoteActor == nil {
			return ""
		}
		err, followers := e.db.ReadFollowersByTargetAccountId(remoteActor.Id)
		if err != nil || followers == nil {
			return ""
		}
		for _, follow := range *followers {
			err, localAccount := e.db.ReadAccById(follow.AccountId)
			if err == nil && localAccount != nil {
				return localAccount.Username
			}
		}
	}

	return ""
}
