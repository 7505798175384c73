package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSharedInboxSentinel(t *testing.T) {
	// The sentinel must never collide with a real username; "@" is not
	// a legal username character.
	if !strings.HasPrefix(SharedInbox, "@") {
		t.Errorf("SharedInbox sentinel must be un-registrable, got %q", SharedInbox)
	}
}

func TestRemoteAccountSharedInbox(t *testing.T) {
	ra := RemoteAccount{
		Id:             uuid.New(),
		Username:       "bob",
		Domain:         "remote.example",
		ActorURI:       "https://remote.example/users/bob",
		InboxURI:       "https://remote.example/users/bob/inbox",
		SharedInboxURI: "https://remote.example/inbox",
		PublicKeyPem:   "-----BEGIN PUBLIC KEY-----",
		LastFetchedAt:  time.Now(),
	}

	if ra.SharedInboxURI == ra.InboxURI {
		t.Error("Shared inbox must be distinct from the per-user inbox")
	}
	if ra.Domain != "remote.example" {
		t.Errorf("Expected domain remote.example, got %s", ra.Domain)
	}
}

func TestFollowDefaults(t *testing.T) {
	follow := Follow{
		Id:              uuid.New(),
		AccountId:       uuid.New(),
		TargetAccountId: uuid.New(),
		URI:             "https://remote.example/users/bob/follows/1",
		CreatedAt:       time.Now(),
	}

	if follow.Accepted {
		t.Error("A new follow must start unaccepted")
	}
}

func TestQueuedActivityDefaults(t *testing.T) {
	item := QueuedActivity{
		Id:        uuid.New(),
		Account:   "alice",
		Path:      "/users/alice/inbox",
		Body:      `{"type":"Follow"}`,
		ArrivedAt: time.Now(),
	}

	if item.Retries != 0 {
		t.Errorf("A fresh item must carry zero retries, got %d", item.Retries)
	}
	if item.Account == SharedInbox {
		t.Error("Test item should target a concrete account")
	}
}

func TestCapturedHeadersRoundTrip(t *testing.T) {
	headers := CapturedHeaders{
		Host:           "local.test",
		Signature:      `keyId="https://remote.example/users/bob#main-key"`,
		Digest:         "SHA-256=abc",
		Date:           "Mon, 01 Sep 2025 12:00:00 GMT",
		ContentType:    "application/activity+json",
		CollectionSync: "collectionId=\"x\"",
	}

	encoded, err := json.Marshal(headers)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded CapturedHeaders
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != headers {
		t.Errorf("Round trip changed headers: %+v != %+v", decoded, headers)
	}
}

func TestCapturedHeadersOmitsEmpty(t *testing.T) {
	encoded, err := json.Marshal(CapturedHeaders{Host: "local.test", ContentType: "application/activity+json"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Absent optional headers must stay absent, so the worker can tell
	// "no signature-input" from "empty signature-input".
	for _, field := range []string{"signature", "signatureInput", "digest", "date", "contentLength", "collectionSync"} {
		if strings.Contains(string(encoded), `"`+field+`"`) {
			t.Errorf("Empty %s should be omitted: %s", field, encoded)
		}
	}
}

func TestActivityRecord(t *testing.T) {
	activity := Activity{
		Id:           uuid.New(),
		ActivityURI:  "https://remote.example/activities/1",
		ActivityType: "Create",
		ActorURI:     "https://remote.example/users/bob",
		ObjectURI:    "https://remote.example/notes/1",
		RawJSON:      `{"type":"Create"}`,
		Processed:    true,
		CreatedAt:    time.Now(),
	}

	if activity.Local {
		t.Error("Inbound activity records must not read as local")
	}
	if activity.ActivityType != "Create" {
		t.Errorf("Expected type Create, got %s", activity.ActivityType)
	}
}

func TestSendLogEntry(t *testing.T) {
	entry := SendLogEntry{
		Id:         uuid.New(),
		Username:   "alice",
		InboxURI:   "https://remote.example/inbox",
		StatusCode: 202,
		CreatedAt:  time.Now(),
	}

	if entry.Error != "" {
		t.Error("A successful entry must carry no error text")
	}
}
