package web

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/domain"
)

const outboxItemsPerPage = 20

// GetOutbox returns an ActivityPub OrderedCollection of a user's posts
// so remote servers can discover them without following the user.
func GetOutbox(engine *activitypub.Engine, actor string, page int) (error, string) {
	err, _ := engine.DB().ReadAccByUsername(actor)
	if err != nil {
		log.Printf("GetOutbox: User %s not found: %v", actor, err)
		return err, "{}"
	}

	baseURL := fmt.Sprintf("https://%s", engine.Conf().Conf.SslDomain)
	outboxURL := fmt.Sprintf("%s/users/%s/outbox", baseURL, actor)

	// Without a page parameter, return the collection metadata.
	if page == 0 {
		err, notes := engine.DB().ReadNotesByUsername(actor)
		if err != nil {
			log.Printf("GetOutbox: Failed to count notes for %s: %v", actor, err)
			return err, "{}"
		}
		totalItems := 0
		if notes != nil {
			totalItems = len(*notes)
		}

		collection := map[string]interface{}{
			"@context":   "https://www.w3.org/ns/activitystreams",
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": totalItems,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		}

		jsonData, err := json.Marshal(collection)
		if err != nil {
			return err, "{}"
		}
		return nil, string(jsonData)
	}

	return getOutboxPage(engine, actor, page)
}

func getOutboxPage(engine *activitypub.Engine, actor string, page int) (error, string) {
	err, notes := engine.DB().ReadNotesByUsername(actor)
	if err != nil {
		log.Printf("GetOutbox: Failed to fetch notes page %d for %s: %v", page, actor, err)
		return err, "{}"
	}

	baseURL := fmt.Sprintf("https://%s", engine.Conf().Conf.SslDomain)
	outboxURL := fmt.Sprintf("%s/users/%s/outbox", baseURL, actor)
	pageURL := fmt.Sprintf("%s?page=%d", outboxURL, page)

	items := []interface{}{}
	hasMore := false

	if notes != nil {
		offset := (page - 1) * outboxItemsPerPage
		all := *notes
		if offset < len(all) {
			end := offset + outboxItemsPerPage
			if end > len(all) {
				end = len(all)
			}
			hasMore = end < len(all)
			items = makeNoteActivities(all[offset:end], actor, baseURL)
		}
	}

	collectionPage := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           pageURL,
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}

	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}

	jsonData, err := json.Marshal(collectionPage)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonData)
}

// makeNoteActivities converts notes to ActivityPub Create activities.
func makeNoteActivities(notes []domain.Note, actor string, baseURL string) []interface{} {
	activities := make([]interface{}, 0, len(notes))

	for _, note := range notes {
		objectURI := fmt.Sprintf("%s/notes/%s", baseURL, note.Id.String())

		noteObj := map[string]interface{}{
			"id":           objectURI,
			"type":         "Note",
			"attributedTo": fmt.Sprintf("%s/users/%s", baseURL, actor),
			"content":      note.Message,
			"published":    note.CreatedAt.Format(time.RFC3339),
			"to": []string{
				"https://www.w3.org/ns/activitystreams#Public",
			},
			"cc": []string{
				fmt.Sprintf("%s/users/%s/followers", baseURL, actor),
			},
		}

		activityURI := fmt.Sprintf("%s/activities/%s", baseURL, note.Id.String())
		activity := map[string]interface{}{
			"id":        activityURI,
			"type":      "Create",
			"actor":     fmt.Sprintf("%s/users/%s", baseURL, actor),
			"published": note.CreatedAt.Format(time.RFC3339),
			"to": []string{
				"https://www.w3.org/ns/activitystreams#Public",
			},
			"cc": []string{
				fmt.Sprintf("%s/users/%s/followers", baseURL, actor),
			},
			"object": noteObj,
		}

		activities = append(activities, activity)
	}

	return activities
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
