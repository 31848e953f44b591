package web

import (
	"encoding/json"
	"fmt"

	"github.com/Toromino/kibou-sub000/activitypub"
	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
)

// GetActivityDocument serves a locally stored activity by its minted id.
// Undos and activities not addressed to Public stay hidden.
func GetActivityDocument(id string, conf *util.AppConfig) (error, string) {
	err, activity := db.GetDB().ReadActivityByActivityURI(conf.ActivityURI(id))
	if err != nil {
		return err, "{}"
	}

	doc, err := activity.Document()
	if err != nil {
		return err, "{}"
	}

	if activityType, _ := doc["type"].(string); activityType == "Undo" {
		return fmt.Errorf("activity is not public"), "{}"
	}
	if !isPublicDocument(doc) {
		return fmt.Errorf("activity is not public"), "{}"
	}

	raw, err := json.Marshal(activitypub.WithContext(doc))
	if err != nil {
		return err, "{}"
	}
	return nil, string(raw)
}

// GetObjectDocument serves a locally stored object by its minted id,
// applying the same visibility rule as activities.
func GetObjectDocument(id string, conf *util.AppConfig) (error, string) {
	err, activity := db.GetDB().ReadActivityByObjectURI(conf.ObjectURI(id))
	if err != nil {
		return err, "{}"
	}

	doc, err := activity.Document()
	if err != nil {
		return err, "{}"
	}

	object, ok := doc["object"].(map[string]any)
	if !ok {
		return fmt.Errorf("activity carries no embedded object"), "{}"
	}
	if !isPublicDocument(object) {
		return fmt.Errorf("object is not public"), "{}"
	}

	raw, err := json.Marshal(activitypub.WithContext(object))
	if err != nil {
		return err, "{}"
	}
	return nil, string(raw)
}

// isPublicDocument reports whether the Public collection appears in the
// document's addressing. Stored documents are normalized, so only the
// canonical spelling needs checking.
func isPublicDocument(doc map[string]any) bool {
	for _, field := range []string{"to", "cc"} {
		switch addresses := doc[field].(type) {
		case []any:
			for _, address := range addresses {
				if address == domain.PublicAddress {
					return true
				}
			}
		case []string:
			for _, address := range addresses {
				if address == domain.PublicAddress {
					return true
				}
			}
		}
	}
	return false
}
