package web

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// outboxPageSize is the number of activities per outbox page.
const outboxPageSize = 20

// GetActor renders a local actor's ActivityPub document.
func GetActor(username string, conf *util.AppConfig) (error, string) {
	err, actor := db.GetDB().ReadLocalActorByUsername(username)
	if err != nil {
		return err, "{}"
	}

	actorURI := actor.ActorURI
	name := actor.Name
	if name == "" {
		name = actor.PreferredUsername
	}

	doc := map[string]any{
		"@context": []any{
			activityStreamsContext,
			"https://w3id.org/security/v1",
		},
		"id":                        actorURI,
		"type":                      "Person",
		"preferredUsername":         actor.PreferredUsername,
		"name":                      name,
		"summary":                   actor.Summary,
		"url":                       actorURI,
		"inbox":                     actor.InboxURI,
		"outbox":                    actorURI + "/outbox",
		"followers":                 actorURI + "/followers",
		"following":                 actorURI + "/following",
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]any{
			"sharedInbox": conf.SharedInboxURI(),
		},
		"publicKey": map[string]any{
			"id":           conf.KeyId(actor.PreferredUsername),
			"owner":        actorURI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}

	if actor.IconURL != "" {
		doc["icon"] = map[string]any{
			"type": "Image",
			"url":  actor.IconURL,
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(raw)
}

// GetOutbox renders a local actor's outbox. Without a page parameter the
// top-level OrderedCollection is returned; with one, an
// OrderedCollectionPage holding the public activities of that page.
func GetOutbox(username string, page int, conf *util.AppConfig) (error, string) {
	database := db.GetDB()
	err, actor := database.ReadLocalActorByUsername(username)
	if err != nil {
		return err, "{}"
	}

	outboxURI := actor.ActorURI + "/outbox"

	err, total := database.CountOutboxActivities(actor.ActorURI)
	if err != nil {
		return err, "{}"
	}

	if page < 1 {
		collection := map[string]any{
			"@context":   activityStreamsContext,
			"id":         outboxURI,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      outboxURI + "?page=1",
		}
		raw, err := json.Marshal(collection)
		if err != nil {
			return err, "{}"
		}
		return nil, string(raw)
	}

	err, activities := database.ReadOutboxActivities(actor.ActorURI, outboxPageSize, (page-1)*outboxPageSize)
	if err != nil {
		return err, "{}"
	}

	items := make([]any, 0, len(*activities))
	for _, activity := range *activities {
		doc, err := activity.Document()
		if err != nil {
			continue
		}
		items = append(items, doc)
	}

	collectionPage := map[string]any{
		"@context":     activityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", outboxURI, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURI,
		"totalItems":   total,
		"orderedItems": items,
	}
	if total > page*outboxPageSize {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURI, page+1)
	}

	raw, err := json.Marshal(collectionPage)
	if err != nil {
		return err, "{}"
	}
	return nil, string(raw)
}

// GetFollowersCollection renders the top-level followers collection. The
// collection always pages, which is what Mastodon expects.
func GetFollowersCollection(actor *domain.Actor) string {
	return marshalCollection(actor.ActorURI+"/followers", len(actor.Followers.ActivityPub))
}

// GetFollowersPage renders one page of the followers collection.
func GetFollowersPage(actor *domain.Actor, page int) string {
	return marshalCollectionPage(actor.ActorURI+"/followers", actor.Followers.Hrefs(), page)
}

// GetFollowingCollection renders the top-level following collection.
func GetFollowingCollection(actor *domain.Actor, followees []string) string {
	return marshalCollection(actor.ActorURI+"/following", len(followees))
}

// GetFollowingPage renders one page of the following collection.
func GetFollowingPage(actor *domain.Actor, followees []string, page int) string {
	return marshalCollectionPage(actor.ActorURI+"/following", followees, page)
}

func marshalCollection(collectionURI string, total int) string {
	collection := map[string]any{
		"@context":   activityStreamsContext,
		"id":         collectionURI,
		"type":       "OrderedCollection",
		"totalItems": total,
		"first":      collectionURI + "?page=1",
	}
	raw, err := json.Marshal(collection)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func marshalCollectionPage(collectionURI string, items []string, page int) string {
	if items == nil {
		items = []string{}
	}
	collectionPage := map[string]any{
		"@context":     activityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", collectionURI, page),
		"type":         "OrderedCollectionPage",
		"partOf":       collectionURI,
		"totalItems":   len(items),
		"orderedItems": items,
	}
	raw, err := json.Marshal(collectionPage)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ParsePageParam parses a page query parameter, returning 0 when absent or
// unparseable.
func ParsePageParam(page string) int {
	if page == "" {
		return 0
	}
	parsed, err := strconv.Atoi(page)
	if err != nil || parsed < 1 {
		return 0
	}
	return parsed
}
