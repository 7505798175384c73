package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/mammut/activitypub"
)

func GetWebfinger(engine *activitypub.Engine, user string) (error, string) {

	err, acc := engine.DB().ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	username := acc.Username
	sslDomain := engine.Conf().Conf.SslDomain

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "https://%s/users/%s"
						}
					]
				}`, username, sslDomain,
		sslDomain, username)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}

// WebFingerResponse is the JRD document returned by a webfinger lookup.
type WebFingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveWebFinger looks up user@domain and returns the actor URI.
func ResolveWebFinger(username, domain string) (string, error) {
	url := fmt.Sprintf("https://%s/.well-known/webfinger?resource=acct:%s@%s", domain, username, domain)
	return resolveWebFingerURL(url)
}

func resolveWebFingerURL(url string) (string, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json")
	req.Header.Set("User-Agent", "mammut/0.1 ActivityPub")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfinger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webfinger returned status: %d", resp.StatusCode)
	}

	var wfr WebFingerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wfr); err != nil {
		return "", fmt.Errorf("failed to parse webfinger response: %w", err)
	}

	for _, link := range wfr.Links {
		if link.Rel == "self" && link.Type == "application/activity+json" {
			return link.Href, nil
		}
	}

	return "", fmt.Errorf("no ActivityPub actor link in webfinger response")
}
