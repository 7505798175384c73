package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// FollowActivity represents an ActivityPub Follow activity
type FollowActivity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  string      `json:"object"` // URI of the person being followed
}

// handleFollowActivity stores the follow relationship and queues the
// Accept. Redelivered Follows are idempotent: an existing row with the
// same pair just gets a fresh Accept.
func (e *Engine) handleFollowActivity(body []byte, username string) error {
	var follow FollowActivity
	if err := json.Unmarshal(body, &follow); err != nil {
		return fmt.Errorf("failed to parse Follow activity: %w", err)
	}

	err, remoteActor := e.db.ReadRemoteAccountByURI(follow.Actor)
	if err != nil || remoteActor == nil {
		return fmt.Errorf("follower %s not cached", follow.Actor)
	}

	err, localAccount := e.db.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("local account not found: %w", err)
	}

	// AccountId is the follower, TargetAccountId the account being
	// followed.
	followRecord := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       remoteActor.Id,
		TargetAccountId: localAccount.Id,
		URI:             follow.ID,
		Accepted:        true,
		CreatedAt:       time.Now(),
	}

	if createErr := e.db.CreateFollow(followRecord); createErr != nil {
		err, existing := e.db.ReadFollowByAccountIds(remoteActor.Id, localAccount.Id)
		if err != nil || existing == nil {
			return fmt.Errorf("failed to create follow: %w", createErr)
		}
		log.Printf("Worker: Follow from %s@%s already present", remoteActor.Username, remoteActor.Domain)
	}

	if err := e.SendAccept(localAccount, remoteActor, follow.ID); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}

	log.Printf("Worker: Accepted follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleUndoActivity processes an Undo activity (e.g., Undo Follow)
func (e *Engine) handleUndoActivity(body []byte, username string) error {
	var undo struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &undo); err != nil {
		return fmt.Errorf("failed to parse Undo activity: %w", err)
	}

	var obj struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(undo.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	if obj.Type == "Follow" {
		if err := e.db.DeleteFollowByURI(obj.ID); err != nil {
			return fmt.Errorf("failed to delete follow: %w", err)
		}
		log.Printf("Worker: Removed follow %s after Undo from %s", obj.ID, undo.Actor)
	}

	return nil
}

// handleAcceptActivity marks our outgoing Follow as accepted.
func (e *Engine) handleAcceptActivity(body []byte) error {
	var accept struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}

	if err := json.Unmarshal(body, &accept); err != nil {
		return fmt.Errorf("failed to parse Accept activity: %w", err)
	}

	var followObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(accept.Object, &followObj); err != nil {
		return fmt.Errorf("failed to parse Accept object: %w", err)
	}

	if err := e.db.AcceptFollowByURI(followObj.ID); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}

	log.Printf("Worker: Follow %s was accepted by %s", followObj.ID, accept.Actor)
	return nil
}

// handleCreateActivity stores an incoming post from a followed actor.
func (e *Engine) handleCreateActivity(body []byte, username string) error {
	var create struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Actor  string `json:"actor"`
		Object struct {
			ID           string `json:"id"`
			Type         string `json:"type"`
			Content      string `json:"content"`
			Published    string `json:"published"`
			AttributedTo string `json:"attributedTo"`
		} `json:"object"`
	}

	if err := json.Unmarshal(body, &create); err != nil {
		return fmt.Errorf("failed to parse Create activity: %w", err)
	}

	err, localAccount := e.db.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	err, remoteActor := e.db.ReadRemoteAccountByURI(create.Actor)
	if err != nil || remoteActor == nil {
		return fmt.Errorf("unknown actor %s", create.Actor)
	}

	// Only followed actors may post into the timeline.
	err, follow := e.db.ReadFollowByAccountIds(localAccount.Id, remoteActor.Id)
	if err != nil || follow == nil {
		return fmt.Errorf("not following %s", create.Actor)
	}

	activityURI := create.ID
	if activityURI == "" {
		activityURI = create.Object.ID
	}

	if err, existing := e.db.ReadActivityByURI(activityURI); err == nil && existing != nil {
		log.Printf("Worker: Activity %s already exists, skipping", activityURI)
		return nil
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activityURI,
		ActivityType: "Create",
		ActorURI:     create.Actor,
		ObjectURI:    create.Object.ID,
		RawJSON:      string(body),
		Processed:    true,
		Local:        false,
		CreatedAt:    time.Now(),
	}

	if err := e.db.CreateActivity(activity); err != nil {
		return fmt.Errorf("failed to store Create activity: %w", err)
	}

	log.Printf("Worker: Stored post from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleLikeActivity records a Like against a local note.
func (e *Engine) handleLikeActivity(body []byte, username string) error {
	var like struct {
		ID     string `json:"id"`
		Actor  string `json:"actor"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &like); err != nil {
		return fmt.Errorf("failed to parse Like activity: %w", err)
	}

	if err, existing := e.db.ReadActivityByURI(like.ID); err == nil && existing != nil {
		return nil
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  like.ID,
		ActivityType: "Like",
		ActorURI:     like.Actor,
		ObjectURI:    like.Object,
		RawJSON:      string(body),
		Processed:    true,
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if err := e.db.CreateActivity(record); err != nil {
		return fmt.Errorf("failed to store Like: %w", err)
	}

	log.Printf("Worker: %s liked %s", like.Actor, like.Object)
	return nil
}

// handleAnnounceActivity records a boost of a local note.
func (e *Engine) handleAnnounceActivity(body []byte, username string) error {
	var announce struct {
		ID     string `json:"id"`
		Actor  string `json:"actor"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &announce); err != nil {
		return fmt.Errorf("failed to parse Announce activity: %w", err)
	}

	if err, existing := e.db.ReadActivityByURI(announce.ID); err == nil && existing != nil {
		return nil
	}

	record := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  announce.ID,
		ActivityType: "Announce",
		ActorURI:     announce.Actor,
		ObjectURI:    announce.Object,
		RawJSON:      string(body),
		Processed:    true,
		Local:        false,
		CreatedAt:    time.Now(),
	}
	if err := e.db.CreateActivity(record); err != nil {
		return fmt.Errorf("failed to store Announce: %w", err)
	}

	log.Printf("Worker: %s announced %s", announce.Actor, announce.Object)
	return nil
}

// handleUpdateActivity applies profile updates and post edits.
func (e *Engine) handleUpdateActivity(body []byte) error {
	var update struct {
		ID     string          `json:"id"`
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}

	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("failed to parse Update activity: %w", err)
	}

	var objectType struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(update.Object, &objectType); err != nil {
		return fmt.Errorf("failed to parse Update object: %w", err)
	}

	switch objectType.Type {
	case "Person":
		// Profile update: re-fetch the actor document.
		e.Actors.CheckForChangedActor(e.Session(), update.Actor)
		log.Printf("Worker: Refreshed profile for %s", update.Actor)

	case "Note", "Article":
		err, existingActivity := e.db.ReadActivityByObjectURI(objectType.ID)
		if err != nil || existingActivity == nil {
			log.Printf("Worker: Note/Article %s not found for update, ignoring", objectType.ID)
			return nil
		}

		// Keep the activity type as Create so the edit stays visible
		// in the timeline.
		existingActivity.RawJSON = string(body)
		if err := e.db.UpdateActivity(existingActivity); err != nil {
			return fmt.Errorf("failed to update activity: %w", err)
		}
		log.Printf("Worker: Updated Note/Article %s", objectType.ID)

	default:
		log.Printf("Worker: Unsupported Update object type: %s", objectType.Type)
	}

	return nil
}

// handleDeleteActivity removes posts or whole actors.
func (e *Engine) handleDeleteActivity(body []byte) error {
	var deleteAct struct {
		ID     string      `json:"id"`
		Type   string      `json:"type"`
		Actor  string      `json:"actor"`
		Object interface{} `json:"object"`
	}

	if err := json.Unmarshal(body, &deleteAct); err != nil {
		return fmt.Errorf("failed to parse Delete activity: %w", err)
	}

	// Object can be either a string URI or a Tombstone object.
	var objectURI string
	switch obj := deleteAct.Object.(type) {
	case string:
		objectURI = obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			objectURI = id
		}
	}
	if objectURI == "" {
		return fmt.Errorf("could not determine object URI from Delete activity")
	}

	if objectURI == deleteAct.Actor {
		// Actor deletion: remove the account, its follows and data.
		err, remoteAcc := e.db.ReadRemoteAccountByURI(objectURI)
		if err == nil && remoteAcc != nil {
			e.db.DeleteFollowsByRemoteAccountId(remoteAcc.Id)
			e.db.DeleteRemoteAccount(remoteAcc.Id)
			log.Printf("Worker: Removed actor %s and all associated data", objectURI)
		}
		return nil
	}

	err, activity := e.db.ReadActivityByObjectURI(objectURI)
	if err != nil || activity == nil {
		log.Printf("Worker: Activity with object %s not found for deletion, ignoring", objectURI)
		return nil
	}

	if err := e.db.DeleteActivity(activity.Id); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	log.Printf("Worker: Deleted activity containing object %s", objectURI)
	return nil
}
