package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

const (
	// defaultSendWait bounds how long a new send waits for the
	// account's previous send thread before cancelling it.
	defaultSendWait = 8 * time.Second
	defaultSendPoll = 1 * time.Second

	reaperTick = 30 * time.Second
)

// SendThread is one account's in-flight delivery run. At most one
// exists per account; a newer send supersedes it.
type SendThread struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// SendRegistry serializes outbound delivery per local account. A new
// send waits a bounded time for the account's previous thread to
// finish, then cancels it and takes over. Threads running past their
// lifetime are reaped.
type SendRegistry struct {
	mu      sync.Mutex
	threads map[uuid.UUID]*SendThread

	waitTimeout  time.Duration
	pollInterval time.Duration
	ttl          time.Duration
}

func NewSendRegistry(ttl time.Duration) *SendRegistry {
	return &SendRegistry{
		threads:      make(map[uuid.UUID]*SendThread),
		waitTimeout:  defaultSendWait,
		pollInterval: defaultSendPoll,
		ttl:          ttl,
	}
}

// Start launches run on a fresh thread for the account, superseding any
// previous one. The call returns once the new thread is registered.
func (r *SendRegistry) Start(accountId uuid.UUID, run func(ctx context.Context)) {
	r.mu.Lock()
	previous := r.threads[accountId]
	r.mu.Unlock()

	if previous != nil {
		r.waitThenCancel(accountId, previous)
	}

	ctx, cancel := context.WithCancel(context.Background())
	thread := &SendThread{
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	r.mu.Lock()
	r.threads[accountId] = thread
	r.mu.Unlock()

	go func() {
		defer close(thread.done)
		defer cancel()
		run(ctx)
	}()
}

// waitThenCancel gives the previous thread a bounded grace period to
// finish on its own, polling rather than blocking on it, then cancels.
func (r *SendRegistry) waitThenCancel(accountId uuid.UUID, previous *SendThread) {
	deadline := time.Now().Add(r.waitTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-previous.done:
			return
		case <-time.After(r.pollInterval):
		}
	}

	log.Printf("Delivery: Cancelling stuck send thread for account %s", accountId)
	previous.cancel()
	<-previous.done
}

// Active reports how many send threads are currently registered.
func (r *SendRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

// reap removes finished threads and cancels any running past its
// lifetime. Returns the number of threads cancelled.
func (r *SendRegistry) reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := 0
	for accountId, thread := range r.threads {
		select {
		case <-thread.done:
			delete(r.threads, accountId)
			continue
		default:
		}
		if time.Since(thread.started) > r.ttl {
			log.Printf("Delivery: Reaping send thread for account %s (alive %s)", accountId, time.Since(thread.started).Round(time.Second))
			thread.cancel()
			delete(r.threads, accountId)
			cancelled++
		}
	}
	return cancelled
}

// RunReaper periodically reaps dormant send threads until the context
// is cancelled.
func (e *Engine) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reaperTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sends.reap()
		}
	}
}

// DeliverToFollowers fans an activity out to every follower of the
// account on that account's send thread. Followers sharing an origin
// are collapsed onto that origin's shared inbox, so each host receives
// the activity once.
func (e *Engine) DeliverToFollowers(localAccount *domain.Account, activity map[string]interface{}) {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		log.Printf("Delivery: Failed to marshal activity: %v", err)
		return
	}

	err, followers := e.db.ReadFollowersByTargetAccountId(localAccount.Id)
	if err != nil {
		log.Printf("Delivery: Failed to get followers: %v", err)
		return
	}
	if followers == nil || len(*followers) == 0 {
		return
	}

	inboxes := e.collectInboxes(*followers)
	if len(inboxes) == 0 {
		return
	}

	account := *localAccount
	e.Sends.Start(localAccount.Id, func(ctx context.Context) {
		for _, inboxURI := range inboxes {
			if ctx.Err() != nil {
				log.Printf("Delivery: Send thread for %s cancelled", account.Username)
				return
			}
			if err := e.sendActivity(ctx, activityJSON, inboxURI, &account); err != nil {
				log.Printf("Delivery: Failed to deliver to %s: %v", inboxURI, err)
			}
		}
		log.Printf("Delivery: Delivered activity for %s to %d inboxes", account.Username, len(inboxes))
	})
}

// DeliverToInbox sends a single activity to one inbox on the account's
// send thread.
func (e *Engine) DeliverToInbox(localAccount *domain.Account, activity map[string]interface{}, inboxURI string) {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		log.Printf("Delivery: Failed to marshal activity: %v", err)
		return
	}

	account := *localAccount
	e.Sends.Start(localAccount.Id, func(ctx context.Context) {
		if err := e.sendActivity(ctx, activityJSON, inboxURI, &account); err != nil {
			log.Printf("Delivery: Failed to deliver to %s: %v", inboxURI, err)
		}
	})
}

// collectInboxes resolves follower rows to target inbox URIs, one per
// origin host where a shared inbox is known.
func (e *Engine) collectInboxes(followers []domain.Follow) []string {
	seenHosts := make(map[string]bool)
	var inboxes []string

	for _, follower := range followers {
		err, remoteActor := e.db.ReadRemoteAccountById(follower.AccountId)
		if err != nil || remoteActor == nil {
			log.Printf("Delivery: Failed to get remote actor %s: %v", follower.AccountId, err)
			continue
		}

		inboxURI := remoteActor.InboxURI
		if remoteActor.SharedInboxURI != "" {
			inboxURI = remoteActor.SharedInboxURI
		}

		parsed, err := url.Parse(inboxURI)
		if err != nil {
			continue
		}
		if seenHosts[parsed.Host] && remoteActor.SharedInboxURI != "" {
			continue
		}
		seenHosts[parsed.Host] = remoteActor.SharedInboxURI != ""
		inboxes = append(inboxes, inboxURI)
	}

	return inboxes
}

// sendActivity signs and posts one activity to one inbox, recording the
// outcome in the send log.
func (e *Engine) sendActivity(ctx context.Context, activityJSON []byte, inboxURI string, localAccount *domain.Account) error {
	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequestWithContext(ctx, "POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	privateKey, err := ParsePrivateKey(localAccount.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyID := fmt.Sprintf("https://%s/users/%s#main-key", e.conf.Conf.SslDomain, localAccount.Username)
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := e.Session().Do(req)
	if err != nil {
		e.logSend(localAccount.Username, inboxURI, 0, err)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("remote server returned status: %d", resp.StatusCode)
		e.logSend(localAccount.Username, inboxURI, resp.StatusCode, err)
		return err
	}

	e.logSend(localAccount.Username, inboxURI, resp.StatusCode, nil)
	return nil
}

// logSend appends one row to the send log. Failures only log; delivery
// outcome is already decided.
func (e *Engine) logSend(username, inboxURI string, status int, sendErr error) {
	entry := &domain.SendLogEntry{
		Id:         uuid.New(),
		Username:   username,
		InboxURI:   inboxURI,
		StatusCode: status,
		CreatedAt:  time.Now(),
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := e.db.CreateSendLogEntry(entry); err != nil {
		log.Printf("Delivery: Failed to write send log: %v", err)
	}
}
