package db

import (
	"testing"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// setupTestDB creates an in-memory database with the full schema
func setupTestDB(t *testing.T) *DB {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestAccount is a helper to create accounts directly via SQL
func createTestAccount(t *testing.T, db *DB, id uuid.UUID, username, pubkey, webPubKey, webPrivKey string) {
	_, err := db.db.Exec(sqlInsertUser, id, username, pubkey, webPubKey, webPrivKey, time.Now())
	if err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
}

func createTestRemoteAccount(t *testing.T, db *DB, username, domainName string) *domain.RemoteAccount {
	acc := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       username,
		Domain:         domainName,
		ActorURI:       "https://" + domainName + "/users/" + username,
		DisplayName:    username,
		InboxURI:       "https://" + domainName + "/users/" + username + "/inbox",
		OutboxURI:      "https://" + domainName + "/users/" + username + "/outbox",
		SharedInboxURI: "https://" + domainName + "/inbox",
		PublicKeyPem:   "-----BEGIN PUBLIC KEY-----",
		LastFetchedAt:  time.Now(),
	}
	if err := db.CreateRemoteAccount(acc); err != nil {
		t.Fatalf("CreateRemoteAccount failed: %v", err)
	}
	return acc
}

func TestReadAccById(t *testing.T) {
	db := setupTestDB(t)

	id := uuid.New()
	username := "testuser"
	pubkey := "ssh-rsa AAAAB3..."
	createTestAccount(t, db, id, username, pubkey, "webpub", "webpriv")

	err, acc := db.ReadAccById(id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}

	if acc.Id != id {
		t.Errorf("Expected Id %s, got %s", id, acc.Id)
	}
	if acc.Username != username {
		t.Errorf("Expected Username %s, got %s", username, acc.Username)
	}
	if acc.Publickey != pubkey {
		t.Errorf("Expected Publickey %s, got %s", pubkey, acc.Publickey)
	}
}

func TestReadAccByIdNotFound(t *testing.T) {
	db := setupTestDB(t)

	err, acc := db.ReadAccById(uuid.New())
	if err == nil {
		t.Error("Expected error for non-existent account")
	}
	if acc != nil {
		t.Error("Expected nil account for non-existent ID")
	}
}

func TestReadAccByUsername(t *testing.T) {
	db := setupTestDB(t)

	id := uuid.New()
	username := "alice"
	createTestAccount(t, db, id, username, "pubkey", "webpub", "webpriv")

	err, acc := db.ReadAccByUsername(username)
	if err != nil {
		t.Fatalf("ReadAccByUsername failed: %v", err)
	}

	if acc.Username != username {
		t.Errorf("Expected username %s, got %s", username, acc.Username)
	}
	if acc.Id != id {
		t.Errorf("Expected ID %s, got %s", id, acc.Id)
	}
}

func TestUpdateLoginById(t *testing.T) {
	db := setupTestDB(t)

	id := uuid.New()
	createTestAccount(t, db, id, "oldname", "pubkey", "webpub", "webpriv")

	if err := db.UpdateLoginById("newname", id); err != nil {
		t.Fatalf("UpdateLoginById failed: %v", err)
	}

	err, acc := db.ReadAccById(id)
	if err != nil {
		t.Fatalf("ReadAccById failed: %v", err)
	}

	if acc.Username != "newname" {
		t.Errorf("Expected username newname, got %s", acc.Username)
	}
	if acc.FirstTimeLogin != domain.FALSE {
		t.Error("Expected FirstTimeLogin to be FALSE after update")
	}
}

func TestCreateNote(t *testing.T) {
	db := setupTestDB(t)

	userId := uuid.New()
	createTestAccount(t, db, userId, "testuser", "pubkey", "webpub", "webpriv")

	message := "Test message"
	noteId, err := db.CreateNote(userId, message)
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	if noteId == uuid.Nil {
		t.Error("Expected valid note ID")
	}

	err, note := db.ReadNoteId(noteId)
	if err != nil {
		t.Fatalf("ReadNoteId failed: %v", err)
	}

	if note.Message != message {
		t.Errorf("Expected message '%s', got '%s'", message, note.Message)
	}
	if note.CreatedBy != "testuser" {
		t.Errorf("Expected CreatedBy 'testuser', got '%s'", note.CreatedBy)
	}
}

func TestReadNotesByUsername(t *testing.T) {
	db := setupTestDB(t)

	username := "alice"
	userId := uuid.New()
	createTestAccount(t, db, userId, username, "pubkey", "webpub", "webpriv")

	db.CreateNote(userId, "Alice's note")

	err, notes := db.ReadNotesByUsername(username)
	if err != nil {
		t.Fatalf("ReadNotesByUsername failed: %v", err)
	}

	if len(*notes) == 0 {
		t.Fatal("Expected at least one note")
	}
	if (*notes)[0].CreatedBy != username {
		t.Errorf("Expected CreatedBy '%s', got '%s'", username, (*notes)[0].CreatedBy)
	}
}

func TestReadAllNotes(t *testing.T) {
	db := setupTestDB(t)

	user1Id := uuid.New()
	user2Id := uuid.New()
	createTestAccount(t, db, user1Id, "user1", "pubkey1", "webpub1", "webpriv1")
	createTestAccount(t, db, user2Id, "user2", "pubkey2", "webpub2", "webpriv2")

	db.CreateNote(user1Id, "User1 note")
	db.CreateNote(user2Id, "User2 note")

	err, notes := db.ReadAllNotes()
	if err != nil {
		t.Fatalf("ReadAllNotes failed: %v", err)
	}

	if len(*notes) < 2 {
		t.Errorf("Expected at least 2 notes, got %d", len(*notes))
	}
}

func TestCreateRemoteAccount(t *testing.T) {
	db := setupTestDB(t)

	remoteAcc := createTestRemoteAccount(t, db, "bob", "example.com")

	err, acc := db.ReadRemoteAccountByURI(remoteAcc.ActorURI)
	if err != nil {
		t.Fatalf("ReadRemoteAccountByURI failed: %v", err)
	}

	if acc.Username != remoteAcc.Username {
		t.Errorf("Expected username %s, got %s", remoteAcc.Username, acc.Username)
	}
	if acc.SharedInboxURI != remoteAcc.SharedInboxURI {
		t.Errorf("Expected shared inbox %s, got %s", remoteAcc.SharedInboxURI, acc.SharedInboxURI)
	}
}

func TestUpdateRemoteAccount(t *testing.T) {
	db := setupTestDB(t)

	remoteAcc := createTestRemoteAccount(t, db, "bob", "example.com")

	remoteAcc.DisplayName = "Bob Updated"
	remoteAcc.PublicKeyPem = "-----BEGIN PUBLIC KEY-----\nrotated"
	if err := db.UpdateRemoteAccount(remoteAcc); err != nil {
		t.Fatalf("UpdateRemoteAccount failed: %v", err)
	}

	err, acc := db.ReadRemoteAccountByURI(remoteAcc.ActorURI)
	if err != nil {
		t.Fatalf("ReadRemoteAccountByURI failed: %v", err)
	}
	if acc.DisplayName != "Bob Updated" {
		t.Errorf("Expected updated display name, got %s", acc.DisplayName)
	}
	if acc.PublicKeyPem != remoteAcc.PublicKeyPem {
		t.Error("Expected updated public key")
	}
}

func TestFollowLifecycle(t *testing.T) {
	db := setupTestDB(t)

	localId := uuid.New()
	createTestAccount(t, db, localId, "alice", "pubkey", "webpub", "webpriv")
	remoteAcc := createTestRemoteAccount(t, db, "bob", "example.com")

	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       remoteAcc.Id,
		TargetAccountId: localId,
		URI:             "https://example.com/follows/1",
		Accepted:        false,
		CreatedAt:       time.Now(),
	}
	if err := db.CreateFollow(follow); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	if err := db.AcceptFollowByURI(follow.URI); err != nil {
		t.Fatalf("AcceptFollowByURI failed: %v", err)
	}

	err, stored := db.ReadFollowByURI(follow.URI)
	if err != nil {
		t.Fatalf("ReadFollowByURI failed: %v", err)
	}
	if !stored.Accepted {
		t.Error("Expected follow to be accepted")
	}

	err, followers := db.ReadFollowersByTargetAccountId(localId)
	if err != nil {
		t.Fatalf("ReadFollowersByTargetAccountId failed: %v", err)
	}
	if len(*followers) != 1 {
		t.Fatalf("Expected 1 follower, got %d", len(*followers))
	}

	if err := db.DeleteFollowByURI(follow.URI); err != nil {
		t.Fatalf("DeleteFollowByURI failed: %v", err)
	}
	if err, gone := db.ReadFollowByURI(follow.URI); err == nil && gone != nil {
		t.Error("Expected follow to be deleted")
	}
}

func TestCreateActivity(t *testing.T) {
	db := setupTestDB(t)

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  "https://example.com/activities/123",
		ActivityType: "Create",
		ActorURI:     "https://example.com/users/bob",
		ObjectURI:    "https://example.com/notes/456",
		RawJSON:      `{"type":"Create"}`,
		Processed:    false,
		CreatedAt:    time.Now(),
		Local:        false,
	}

	if err := db.CreateActivity(activity); err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}

	err, act := db.ReadActivityByURI(activity.ActivityURI)
	if err != nil {
		t.Fatalf("ReadActivityByURI failed: %v", err)
	}
	if act.ActivityType != activity.ActivityType {
		t.Errorf("Expected ActivityType %s, got %s", activity.ActivityType, act.ActivityType)
	}

	err, byObject := db.ReadActivityByObjectURI(activity.ObjectURI)
	if err != nil {
		t.Fatalf("ReadActivityByObjectURI failed: %v", err)
	}
	if byObject.Id != activity.Id {
		t.Error("Expected same activity by object URI")
	}
}

func makeQueuedActivity(account string) *domain.QueuedActivity {
	return &domain.QueuedActivity{
		Id:      uuid.New(),
		Account: account,
		Path:    "/users/" + account + "/inbox",
		Body:    `{"type":"Create"}`,
		Headers: domain.CapturedHeaders{
			Host:      "local.test",
			Signature: `keyId="https://example.com/users/bob#main-key"`,
			Date:      time.Now().UTC().Format(time.RFC1123),
		},
		ArrivedAt: time.Now(),
	}
}

func TestInboundQueuePersistence(t *testing.T) {
	db := setupTestDB(t)

	first := makeQueuedActivity("alice")
	second := makeQueuedActivity("alice")
	first.ArrivedAt = time.Now().Add(-time.Minute)
	second.ArrivedAt = time.Now()

	if err := db.EnqueueInbound(first); err != nil {
		t.Fatalf("EnqueueInbound failed: %v", err)
	}
	if err := db.EnqueueInbound(second); err != nil {
		t.Fatalf("EnqueueInbound failed: %v", err)
	}

	count, err := db.CountInbound()
	if err != nil {
		t.Fatalf("CountInbound failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 queued items, got %d", count)
	}

	err, ids := db.ReadInboundIdsInOrder()
	if err != nil {
		t.Fatalf("ReadInboundIdsInOrder failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != first.Id || ids[1] != second.Id {
		t.Errorf("Expected arrival order [%s %s], got %v", first.Id, second.Id, ids)
	}

	err, stored := db.ReadInbound(first.Id)
	if err != nil {
		t.Fatalf("ReadInbound failed: %v", err)
	}
	if stored.Headers.Signature != first.Headers.Signature {
		t.Error("Expected captured signature header to round-trip")
	}
	if stored.Body != first.Body {
		t.Error("Expected body to round-trip")
	}
}

func TestInboundQueueRetriesAndDelete(t *testing.T) {
	db := setupTestDB(t)

	item := makeQueuedActivity("alice")
	if err := db.EnqueueInbound(item); err != nil {
		t.Fatalf("EnqueueInbound failed: %v", err)
	}

	if err := db.UpdateInboundRetries(item.Id, 2); err != nil {
		t.Fatalf("UpdateInboundRetries failed: %v", err)
	}

	err, stored := db.ReadInbound(item.Id)
	if err != nil {
		t.Fatalf("ReadInbound failed: %v", err)
	}
	if stored.Retries != 2 {
		t.Errorf("Expected 2 retries, got %d", stored.Retries)
	}

	if err := db.DeleteInbound(item.Id); err != nil {
		t.Fatalf("DeleteInbound failed: %v", err)
	}
	if err, gone := db.ReadInbound(item.Id); err == nil && gone != nil {
		t.Error("Expected item to be deleted")
	}
}

func TestDrainInbound(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.EnqueueInbound(makeQueuedActivity("alice")); err != nil {
			t.Fatalf("EnqueueInbound failed: %v", err)
		}
	}

	if err := db.DrainInbound(); err != nil {
		t.Fatalf("DrainInbound failed: %v", err)
	}

	count, err := db.CountInbound()
	if err != nil {
		t.Fatalf("CountInbound failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty queue after drain, got %d items", count)
	}
}

func TestBlockedDomains(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateBlockedDomain("spam.example", "spam"); err != nil {
		t.Fatalf("CreateBlockedDomain failed: %v", err)
	}

	err, domains := db.ReadBlockedDomains()
	if err != nil {
		t.Fatalf("ReadBlockedDomains failed: %v", err)
	}
	if len(*domains) != 1 || (*domains)[0].Domain != "spam.example" {
		t.Errorf("Expected [spam.example], got %v", *domains)
	}

	if err := db.DeleteBlockedDomain("spam.example"); err != nil {
		t.Fatalf("DeleteBlockedDomain failed: %v", err)
	}

	err, domains = db.ReadBlockedDomains()
	if err != nil {
		t.Fatalf("ReadBlockedDomains failed: %v", err)
	}
	if len(*domains) != 0 {
		t.Errorf("Expected no blocked domains, got %v", *domains)
	}
}

func TestFilteredPhrases(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateFilteredPhrase("unwanted"); err != nil {
		t.Fatalf("CreateFilteredPhrase failed: %v", err)
	}

	err, phrases := db.ReadFilteredPhrases()
	if err != nil {
		t.Fatalf("ReadFilteredPhrases failed: %v", err)
	}
	if len(*phrases) != 1 || (*phrases)[0].Phrase != "unwanted" {
		t.Errorf("Expected [unwanted], got %v", *phrases)
	}

	if err := db.DeleteFilteredPhrase("unwanted"); err != nil {
		t.Fatalf("DeleteFilteredPhrase failed: %v", err)
	}
}

func TestSendLog(t *testing.T) {
	db := setupTestDB(t)

	entry := &domain.SendLogEntry{
		Id:         uuid.New(),
		Username:   "alice",
		InboxURI:   "https://example.com/inbox",
		StatusCode: 202,
		CreatedAt:  time.Now(),
	}
	if err := db.CreateSendLogEntry(entry); err != nil {
		t.Fatalf("CreateSendLogEntry failed: %v", err)
	}

	err, entries := db.ReadRecentSendLog(10)
	if err != nil {
		t.Fatalf("ReadRecentSendLog failed: %v", err)
	}
	if len(*entries) != 1 || (*entries)[0].InboxURI != entry.InboxURI {
		t.Errorf("Expected one entry for %s, got %v", entry.InboxURI, *entries)
	}
}
