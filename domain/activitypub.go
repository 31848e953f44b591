package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PublicAddress is the canonical ActivityStreams Public collection. All
// accepted synonyms are rewritten to this form before storage.
const PublicAddress = "https://www.w3.org/ns/activitystreams#Public"

// Actor represents a federated user, local or remote. The canonical
// ActorURI is the immutable business key; the numeric Id is storage-only.
type Actor struct {
	Id                int64
	ActorURI          string
	PreferredUsername string
	Name              string // Display name, may be empty
	Summary           string
	IconURL           string
	InboxURI          string
	PublicKeyPem      string
	PrivateKeyPem     string // Only set for local actors
	Local             bool
	Email             string // Only set for local actors
	PasswordHash      string // bcrypt, only set for local actors
	Followers         Followers
	CreatedAt         time.Time
	ModifiedAt        time.Time
}

// Stale reports whether a remote actor document is due for a background
// refresh. Local actors are never stale.
func (a *Actor) Stale(maxAge time.Duration) bool {
	if a.Local {
		return false
	}
	return time.Since(a.ModifiedAt) > maxAge
}

// Followers is the denormalized follower set stored as JSON on the actor
// row. The activitypub key holds accepted Follow edges in arrival order.
type Followers struct {
	ActivityPub []FollowerEntry `json:"activitypub"`
}

// FollowerEntry is one accepted Follow edge. ActivityId references the
// Follow activity so a later Undo can be matched against it.
type FollowerEntry struct {
	Href       string `json:"href"`
	FollowDate string `json:"follow_date"`
	ActivityId string `json:"activity_id"`
}

// Contains reports whether href already follows this actor.
func (f *Followers) Contains(href string) bool {
	for _, e := range f.ActivityPub {
		if e.Href == href {
			return true
		}
	}
	return false
}

// Add appends a follower edge, keeping hrefs unique. Returns false when
// the href is already present.
func (f *Followers) Add(entry FollowerEntry) bool {
	if f.Contains(entry.Href) {
		return false
	}
	f.ActivityPub = append(f.ActivityPub, entry)
	return true
}

// Remove deletes the edge for href. Returns false when no edge existed.
func (f *Followers) Remove(href string) bool {
	for i, e := range f.ActivityPub {
		if e.Href == href {
			f.ActivityPub = append(f.ActivityPub[:i], f.ActivityPub[i+1:]...)
			return true
		}
	}
	return false
}

// Hrefs returns the follower actor URIs in arrival order.
func (f *Followers) Hrefs() []string {
	hrefs := make([]string, 0, len(f.ActivityPub))
	for _, e := range f.ActivityPub {
		hrefs = append(hrefs, e.Href)
	}
	return hrefs
}

// Activity is a stored ActivityPub activity. Data holds the normalized
// JSON document; the embedded data.id is globally unique and stored
// documents are immutable (an Undo is a new activity referencing the old).
type Activity struct {
	Id         int64
	Data       string
	ActorURI   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Document parses the stored JSON document.
func (a *Activity) Document() (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(a.Data), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string // The complete activity to deliver
	KeyId        string // Key id of the signing local actor
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
