package web

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/util"
)

// GetWebfinger answers a WebFinger query for a local actor. The resource
// must be an acct: on this node's domain.
func GetWebfinger(resource string, conf *util.AppConfig) (error, string) {
	acct := strings.TrimPrefix(resource, "acct:")
	acct = strings.TrimPrefix(acct, "@")

	username, domainName, found := strings.Cut(acct, "@")
	if !found || username == "" {
		return fmt.Errorf("malformed resource %q", resource), ""
	}
	if !conf.IsLocalHost(domainName) {
		return fmt.Errorf("resource %q is not on this host", resource), ""
	}

	err, actor := db.GetDB().ReadLocalActorByUsername(username)
	if err != nil {
		return err, ""
	}

	response := map[string]any{
		"subject": fmt.Sprintf("acct:%s@%s", actor.PreferredUsername, conf.Endpoint.BaseDomain),
		"aliases": []string{actor.ActorURI},
		"links": []map[string]any{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": actor.ActorURI,
			},
			{
				"rel":  "http://webfinger.net/rel/profile-page",
				"type": "text/html",
				"href": actor.ActorURI,
			},
		},
	}

	raw, err := json.Marshal(response)
	if err != nil {
		return err, ""
	}
	return nil, string(raw)
}

// GetWebFingerNotFound is the body served for unknown resources.
func GetWebFingerNotFound() string {
	return `{"error": "User not found."}`
}
