package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// workerTick is how often the worker polls the queue head when idle.
const workerTick = 1 * time.Second

// maxItemRetries bounds how often a transiently failing item is retried
// before it is dropped. The item stays at the head in between, so
// arrival order is preserved.
const maxItemRetries = 3

// transientError marks a failure worth retrying: the network was
// unreachable, the origin was down. Everything else is permanent and
// drops the item.
type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

func transient(err error) error {
	return transientError{err: err}
}

// RunQueueWorker drains the inbound queue in arrival order until the
// context is cancelled. It is the only consumer of the queue.
func (e *Engine) RunQueueWorker(ctx context.Context) {
	log.Printf("Worker: Started")

	ticker := time.NewTicker(workerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker: Stopping")
			return
		case <-ticker.C:
			if e.Queue.Restarting() {
				log.Printf("Worker: Acknowledging queue restart")
				e.Queue.ClearRestart()
				continue
			}
			for e.ProcessQueueOnce(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// ProcessQueueOnce takes the oldest queued activity through
// verification and dispatch. Returns true when an item was consumed, so
// the caller can keep draining a non-empty queue without waiting for
// the next tick.
func (e *Engine) ProcessQueueOnce(ctx context.Context) bool {
	id, ok := e.Queue.Oldest()
	if !ok {
		return false
	}

	err, item := e.db.ReadInbound(id)
	if err != nil || item == nil {
		// Row vanished underneath the index (drain race); drop the id.
		e.Queue.Remove(id)
		return true
	}

	if err := e.processItem(ctx, item); err != nil {
		var retriable transientError
		if errors.As(err, &retriable) && item.Retries < maxItemRetries {
			log.Printf("Worker: Transient failure for %s (attempt %d): %v", item.Id, item.Retries+1, err)
			if dbErr := e.db.UpdateInboundRetries(item.Id, item.Retries+1); dbErr != nil {
				log.Printf("Worker: Could not record retry: %v", dbErr)
			}
			// Leave the item at the head; the next tick retries it.
			return false
		}
		log.Printf("Worker: Dropping activity %s: %v", item.Id, err)
	}

	if err := e.Queue.Remove(id); err != nil {
		log.Printf("Worker: Failed to remove %s: %v", id, err)
	}
	return true
}

// processItem verifies and dispatches one stored activity.
func (e *Engine) processItem(ctx context.Context, item *domain.QueuedActivity) error {
	body := []byte(item.Body)

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		return fmt.Errorf("failed to parse stored activity: %w", err)
	}

	actorURI, _ := activity["actor"].(string)
	activityType, _ := activity["type"].(string)
	if actorURI == "" || activityType == "" {
		return fmt.Errorf("stored activity missing actor or type")
	}

	// Re-apply policy at dequeue time: a block that landed while the
	// item sat in the queue still takes effect.
	actorDomain, err := extractDomain(actorURI)
	if err != nil {
		return fmt.Errorf("invalid actor URI: %w", err)
	}
	if e.Policy.IsBlockedDomain(actorDomain) {
		return fmt.Errorf("actor domain %s blocked", actorDomain)
	}
	if !e.Policy.IsPermittedActor(actorURI) {
		return fmt.Errorf("actor %s outside federation list", actorURI)
	}
	if content := extractContent(activity); content != "" && e.Policy.IsFiltered(content) {
		return fmt.Errorf("content matched filter")
	}

	// Fail closed on key resolution: no key, no verification, no
	// processing. Fetch errors are transient; a keyless actor is not.
	publicKeyPem, err := e.Actors.GetPublicKey(ctx, e.Session(), actorURI)
	if err != nil {
		if errors.Is(err, ErrActorKeyMissing) {
			return fmt.Errorf("key resolution: %w", err)
		}
		return transient(fmt.Errorf("key resolution: %w", err))
	}

	req, err := reconstructRequest(item)
	if err != nil {
		return err
	}
	if _, err := VerifyRequest(req, publicKeyPem); err != nil {
		// The key may have rotated since we cached it; one forced
		// refresh before giving up.
		e.Actors.CheckForChangedActor(e.Session(), actorURI)
		if fresh := e.Actors.Get(actorURI); fresh != nil && fresh.PublicKeyPem != publicKeyPem {
			if _, retryErr := VerifyRequest(req, fresh.PublicKeyPem); retryErr == nil {
				err = nil
			}
		}
		if err != nil {
			return fmt.Errorf("signature verification failed: %w", err)
		}
	}

	username := item.Account
	if username == domain.SharedInbox {
		if resolved := e.resolveSharedTarget(activity); resolved != "" {
			username = resolved
		} else {
			return fmt.Errorf("no local target for shared-inbox activity")
		}
	}

	e.recordActivity(activity, body)

	return e.dispatch(body, activity, activityType, username)
}

// dispatch routes a verified activity to its handler. Handler panics
// are contained so one malformed activity cannot take the worker down.
func (e *Engine) dispatch(body []byte, activity map[string]interface{}, activityType, username string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic for %s: %v", activityType, r)
		}
	}()

	log.Printf("Worker: Processing %s from %v for %s", activityType, activity["actor"], username)

	switch activityType {
	case "Follow":
		return e.handleFollowActivity(body, username)
	case "Undo":
		return e.handleUndoActivity(body, username)
	case "Accept":
		return e.handleAcceptActivity(body)
	case "Create":
		return e.handleCreateActivity(body, username)
	case "Like":
		return e.handleLikeActivity(body, username)
	case "Announce":
		return e.handleAnnounceActivity(body, username)
	case "Update":
		return e.handleUpdateActivity(body)
	case "Delete":
		return e.handleDeleteActivity(body)
	default:
		log.Printf("Worker: Unsupported activity type: %s", activityType)
		return nil
	}
}

// recordActivity stores the raw activity in the activity log, keyed by
// its URI so redeliveries are idempotent.
func (e *Engine) recordActivity(activity map[string]interface{}, body []byte) {
	activityURI, _ := activity["id"].(string)
	if activityURI == "" {
		return
	}
	if err, existing := e.db.ReadActivityByURI(activityURI); err == nil && existing != nil {
		return
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activityURI,
		ActivityType: activity["type"].(string),
		ActorURI:     activity["actor"].(string),
		ObjectURI:    extractObjectURI(activity),
		RawJSON:      string(body),
		Processed:    true,
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if err := e.db.CreateActivity(record); err != nil {
		log.Printf("Worker: Failed to store activity: %v", err)
	}
}

// reconstructRequest rebuilds the signed request from the captured
// headers and stored body so the verifier sees what the sender signed.
func reconstructRequest(item *domain.QueuedActivity) (*http.Request, error) {
	req, err := http.NewRequest("POST", "https://"+item.Headers.Host+item.Path, bytes.NewReader([]byte(item.Body)))
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct request: %w", err)
	}

	req.Host = item.Headers.Host
	setIfPresent := func(name, value string) {
		if value != "" {
			req.Header.Set(name, value)
		}
	}
	setIfPresent("Signature", item.Headers.Signature)
	setIfPresent("Signature-Input", item.Headers.SignatureInput)
	setIfPresent("Digest", item.Headers.Digest)
	setIfPresent("Date", item.Headers.Date)
	setIfPresent("Content-Type", item.Headers.ContentType)
	setIfPresent("Content-Length", item.Headers.ContentLength)
	setIfPresent("Collection-Synchronization", item.Headers.CollectionSync)
	setIfPresent("Host", item.Headers.Host)

	return req, nil
}

func extractObjectURI(activity map[string]interface{}) string {
	switch obj := activity["object"].(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}

func extractContent(activity map[string]interface{}) string {
	if obj, ok := activity["object"].(map[string]interface{}); ok {
		if content, ok := obj["content"].(string); ok {
			return content
		}
	}
	return ""
}
