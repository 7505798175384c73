package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// SendAccept sends an Accept activity in response to a Follow.
func (e *Engine) SendAccept(localAccount *domain.Account, remoteActor *domain.RemoteAccount, followID string) error {
	acceptID := fmt.Sprintf("https://%s/activities/%s", e.conf.Conf.SslDomain, uuid.New().String())
	actorURI := fmt.Sprintf("https://%s/users/%s", e.conf.Conf.SslDomain, localAccount.Username)

	accept := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       acceptID,
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   "Follow",
			"actor":  remoteActor.ActorURI,
			"object": actorURI,
		},
	}

	e.DeliverToInbox(localAccount, accept, remoteActor.InboxURI)
	return nil
}

// SendCreate federates a freshly stored note: the note row is already
// durable when this is called, delivery happens asynchronously on the
// account's send thread.
func (e *Engine) SendCreate(note *domain.Note, localAccount *domain.Account) error {
	actorURI := fmt.Sprintf("https://%s/users/%s", e.conf.Conf.SslDomain, localAccount.Username)
	noteURI := fmt.Sprintf("https://%s/notes/%s", e.conf.Conf.SslDomain, note.Id.String())
	createID := fmt.Sprintf("https://%s/activities/%s", e.conf.Conf.SslDomain, uuid.New().String())
	followersURI := fmt.Sprintf("https://%s/users/%s/followers", e.conf.Conf.SslDomain, localAccount.Username)

	create := map[string]interface{}{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        createID,
		"type":      "Create",
		"actor":     actorURI,
		"published": note.CreatedAt.Format(time.RFC3339),
		"to": []string{
			"https://www.w3.org/ns/activitystreams#Public",
		},
		"cc": []string{followersURI},
		"object": map[string]interface{}{
			"id":           noteURI,
			"type":         "Note",
			"attributedTo": actorURI,
			"content":      note.Message,
			"published":    note.CreatedAt.Format(time.RFC3339),
			"to": []string{
				"https://www.w3.org/ns/activitystreams#Public",
			},
			"cc": []string{followersURI},
		},
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  createID,
		ActivityType: "Create",
		ActorURI:     actorURI,
		ObjectURI:    noteURI,
		RawJSON:      mustMarshal(create),
		Processed:    true,
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := e.db.CreateActivity(record); err != nil {
		log.Printf("Outbox: Failed to store Create activity: %v", err)
	}

	e.DeliverToFollowers(localAccount, create)
	return nil
}

// SendFollow sends a Follow activity to a remote actor. The follow row
// is stored pending and flipped to accepted when the Accept arrives.
func (e *Engine) SendFollow(localAccount *domain.Account, remoteActorURI string) error {
	remoteActor, err := e.Actors.GetOrFetch(context.Background(), e.Session(), remoteActorURI)
	if err != nil {
		return fmt.Errorf("failed to fetch remote actor: %w", err)
	}

	followID := fmt.Sprintf("https://%s/activities/%s", e.conf.Conf.SslDomain, uuid.New().String())
	actorURI := fmt.Sprintf("https://%s/users/%s", e.conf.Conf.SslDomain, localAccount.Username)

	follow := map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       followID,
		"type":     "Follow",
		"actor":    actorURI,
		"object":   remoteActorURI,
	}

	followRecord := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       localAccount.Id,
		TargetAccountId: remoteActor.Id,
		URI:             followID,
		Accepted:        false,
		CreatedAt:       time.Now(),
	}

	if err := e.db.CreateFollow(followRecord); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	e.DeliverToInbox(localAccount, follow, remoteActor.InboxURI)
	return nil
}

// mustMarshal marshals v to JSON, panicking on error
func mustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return string(b)
}
