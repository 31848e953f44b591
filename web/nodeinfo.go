package web

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/util"
)

// WellKnownNodeInfo represents the /.well-known/nodeinfo response
type WellKnownNodeInfo struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// GetNodeInfo20 returns a NodeInfo 2.0 JSON response with usage counts
// from the database.
// See: https://nodeinfo.diaspora.software/schema.html
func GetNodeInfo20(conf *util.AppConfig) string {
	database := db.GetDB()

	err, totalUsers := database.CountLocalActors()
	if err != nil {
		log.Printf("NodeInfo: Failed to count local actors: %v", err)
	}

	err, localPosts := database.CountLocalPosts()
	if err != nil {
		log.Printf("NodeInfo: Failed to count local posts: %v", err)
	}

	err, activeMonth := database.CountActiveActorsMonth()
	if err != nil {
		log.Printf("NodeInfo: Failed to count active actors (month): %v", err)
	}

	err, activeHalfyear := database.CountActiveActorsHalfYear()
	if err != nil {
		log.Printf("NodeInfo: Failed to count active actors (half year): %v", err)
	}

	nodeName := conf.Node.Name
	if nodeName == "" {
		nodeName = util.Name
	}

	// Rendered as a literal to keep the field order stable for consumers
	// that diff these documents.
	return fmt.Sprintf(`{
  "version": "2.0",
  "software": {
    "name": %q,
    "version": %q
  },
  "protocols": ["activitypub"],
  "services": {
    "outbound": [],
    "inbound": []
  },
  "usage": {
    "users": {
      "total": %d,
      "activeMonth": %d,
      "activeHalfyear": %d
    },
    "localPosts": %d
  },
  "openRegistrations": %t,
  "metadata": {
    "nodeName": %q,
    "nodeDescription": %q
  }
}`,
		util.Name,
		util.GetVersion(),
		totalUsers,
		activeMonth,
		activeHalfyear,
		localPosts,
		conf.Node.RegistrationsEnabled,
		nodeName,
		conf.Node.Description,
	)
}

// GetWellKnownNodeInfo returns the /.well-known/nodeinfo discovery document
func GetWellKnownNodeInfo(conf *util.AppConfig) string {
	wellKnown := WellKnownNodeInfo{
		Links: []NodeInfoLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: conf.BaseURL() + "/nodeinfo/2.0.json",
			},
		},
	}

	raw, err := json.Marshal(wellKnown)
	if err != nil {
		log.Printf("NodeInfo: Failed to marshal well-known document: %v", err)
		return "{}"
	}
	return string(raw)
}
