package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/gorilla/feeds"
)

// rssFeedSize caps how many notes a feed includes.
const rssFeedSize = 50

// GetRSS renders a local actor's public notes as an RSS feed.
func GetRSS(conf *util.AppConfig, username string) (string, error) {
	database := db.GetDB()

	err, actor := database.ReadLocalActorByUsername(username)
	if err != nil {
		return "", errors.New("user not found")
	}

	err, activities := database.ReadPublicNotesByActor(actor.ActorURI, rssFeedSize)
	if err != nil {
		log.Printf("RSS: Could not read notes of %s: %v", username, err)
		return "", errors.New("error retrieving notes")
	}

	email := fmt.Sprintf("%s@%s", actor.PreferredUsername, conf.Endpoint.BaseDomain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", conf.Node.Name, actor.PreferredUsername),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/feed?username=%s", conf.BaseURL(), username)},
		Description: conf.Node.Description,
		Author:      &feeds.Author{Name: actor.PreferredUsername, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	if activities != nil {
		for _, activity := range *activities {
			doc, err := activity.Document()
			if err != nil {
				continue
			}
			object, ok := doc["object"].(map[string]any)
			if !ok {
				continue
			}
			// Replies stay out of the feed
			if inReplyTo, _ := object["inReplyTo"].(string); inReplyTo != "" {
				continue
			}
			content, _ := object["content"].(string)
			objectId, _ := object["id"].(string)

			feedItems = append(feedItems, &feeds.Item{
				Id:      objectId,
				Title:   activity.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: objectId},
				Content: content,
				Author:  &feeds.Author{Name: actor.PreferredUsername, Email: email},
				Created: activity.CreatedAt,
			})
		}
	}

	feed.Items = feedItems
	return feed.ToRss()
}
