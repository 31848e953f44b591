package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/google/uuid"
)

// activityContext is the JSON-LD context attached to outbound documents.
// Stored documents carry no context; it is re-added at the wire boundary.
var activityContext = []any{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

// Note visibility levels for composed notes.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
	VisibilityDirect   = "direct"
)

// WithContext returns a shallow copy of doc with the JSON-LD context set,
// ready for delivery or serving.
func WithContext(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	out["@context"] = activityContext
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// BuildCreate wraps an object in a Create activity with a fresh local id.
func BuildCreate(conf *util.AppConfig, actorURI string, object map[string]any, to, cc []string) map[string]any {
	return map[string]any{
		"id":        conf.ActivityURI(uuid.New().String()),
		"type":      "Create",
		"actor":     actorURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        to,
		"cc":        cc,
		"object":    object,
	}
}

// BuildNote builds a Note object. inReplyTo and tags may be empty.
func BuildNote(conf *util.AppConfig, actorURI, inReplyTo, content string, to, cc []string, tags []map[string]any) map[string]any {
	note := map[string]any{
		"id":           conf.ObjectURI(uuid.New().String()),
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      content,
		"mediaType":    "text/html",
		"published":    time.Now().UTC().Format(time.RFC3339),
		"to":           to,
		"cc":           cc,
	}
	if inReplyTo != "" {
		note["inReplyTo"] = inReplyTo
	}
	if len(tags) > 0 {
		note["tag"] = tags
	}
	return note
}

// BuildFollow builds a Follow activity targeting a remote actor.
func BuildFollow(conf *util.AppConfig, actorURI, targetURI string) map[string]any {
	return map[string]any{
		"id":        conf.ActivityURI(uuid.New().String()),
		"type":      "Follow",
		"actor":     actorURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{targetURI},
		"cc":        []string{},
		"object":    targetURI,
	}
}

// BuildAccept builds an Accept for a received Follow, embedding the Follow
// so the remote side can match it.
func BuildAccept(conf *util.AppConfig, actorURI, followId, followActor string) map[string]any {
	return map[string]any{
		"id":        conf.ActivityURI(uuid.New().String()),
		"type":      "Accept",
		"actor":     actorURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        []string{followActor},
		"cc":        []string{},
		"object": map[string]any{
			"id":     followId,
			"type":   "Follow",
			"actor":  followActor,
			"object": actorURI,
		},
	}
}

// BuildLike builds a Like activity for an object URI.
func BuildLike(conf *util.AppConfig, actorURI, objectURI string, to, cc []string) map[string]any {
	return map[string]any{
		"id":        conf.ActivityURI(uuid.New().String()),
		"type":      "Like",
		"actor":     actorURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        to,
		"cc":        cc,
		"object":    objectURI,
	}
}

// BuildAnnounce builds an Announce (boost) activity for an object URI.
func BuildAnnounce(conf *util.AppConfig, actorURI, objectURI string, to, cc []string) map[string]any {
	return map[string]any{
		"id":        conf.ActivityURI(uuid.New().String()),
		"type":      "Announce",
		"actor":     actorURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        to,
		"cc":        cc,
		"object":    objectURI,
	}
}

// BuildUndo builds an Undo for a previously sent activity, embedding the
// prior document so remote servers can match it without a lookup.
func BuildUndo(conf *util.AppConfig, actorURI string, prior map[string]any, to, cc []string) map[string]any {
	return map[string]any{
		"id":        conf.ActivityURI(uuid.New().String()),
		"type":      "Undo",
		"actor":     actorURI,
		"published": time.Now().UTC().Format(time.RFC3339),
		"to":        to,
		"cc":        cc,
		"object":    prior,
	}
}

// VisibilityAddressing maps a note visibility to its to/cc fields.
// mentionURIs are the resolved actor URIs of mentioned users.
func VisibilityAddressing(conf *util.AppConfig, username, visibility string, mentionURIs []string) (to []string, cc []string, err error) {
	followers := conf.ActorURI(username) + "/followers"

	switch visibility {
	case VisibilityPublic:
		to = append([]string{domain.PublicAddress}, mentionURIs...)
		cc = []string{followers}
	case VisibilityUnlisted:
		to = append([]string{followers}, mentionURIs...)
		cc = []string{domain.PublicAddress}
	case VisibilityPrivate:
		to = append([]string{followers}, mentionURIs...)
		cc = []string{}
	case VisibilityDirect:
		to = append([]string{}, mentionURIs...)
		cc = []string{}
	default:
		return nil, nil, fmt.Errorf("%w: unknown visibility %q", ErrValidation, visibility)
	}
	return to, cc, nil
}

// PublishNote composes and federates a note by a local actor. Mentions
// (@user@domain) and hashtags in the content are parsed into tags, mentions
// are resolved via WebFinger, the Create is stored and fanned out.
func PublishNote(conf *util.AppConfig, deps *Deps, sender *domain.Actor, content, inReplyTo, visibility string) (error, map[string]any) {
	mentions := util.ParseMentions(content)
	var mentionURIs []string
	var tags []map[string]any

	for _, mention := range mentions {
		acct := fmt.Sprintf("%s@%s", mention.Username, mention.Domain)
		err, mentioned := ResolveAcctWithDeps(conf, deps, acct)
		if err != nil {
			log.Printf("Outbox: Could not resolve mention %s: %v", acct, err)
			continue
		}
		mentionURIs = append(mentionURIs, mentioned.ActorURI)
		tags = append(tags, map[string]any{
			"type": "Mention",
			"href": mentioned.ActorURI,
			"name": "@" + acct,
		})
	}

	for _, hashtag := range util.ParseHashtags(content) {
		tags = append(tags, map[string]any{
			"type": "Hashtag",
			"name": "#" + hashtag,
		})
	}

	to, cc, err := VisibilityAddressing(conf, sender.PreferredUsername, visibility, mentionURIs)
	if err != nil {
		return err, nil
	}

	note := BuildNote(conf, sender.ActorURI, inReplyTo, SanitizeContent(content), to, cc, tags)
	create := BuildCreate(conf, sender.ActorURI, note, to, cc)

	if err := StoreOutboundActivity(deps, sender.ActorURI, create); err != nil {
		return err, nil
	}

	if err := Deliver(conf, deps, sender, create, CollectInboxes(conf, deps, sender, append(to, cc...))); err != nil {
		log.Printf("Outbox: Delivery of %v failed: %v", create["id"], err)
	}
	return nil, create
}

// SendFollow sends a Follow from a local actor to a remote one.
func SendFollow(conf *util.AppConfig, deps *Deps, sender *domain.Actor, targetURI string) error {
	if targetURI == sender.ActorURI {
		return fmt.Errorf("%w: cannot follow yourself", ErrValidation)
	}

	err, target := GetOrFetchActorWithDeps(context.Background(), targetURI, deps)
	if err != nil {
		return fmt.Errorf("failed to resolve follow target: %w", err)
	}

	follow := BuildFollow(conf, sender.ActorURI, target.ActorURI)
	if err := StoreOutboundActivity(deps, sender.ActorURI, follow); err != nil {
		return err
	}
	return Deliver(conf, deps, sender, follow, []string{target.InboxURI})
}

// SendAccept answers a received Follow with an Accept.
func SendAccept(conf *util.AppConfig, deps *Deps, sender *domain.Actor, followId, followActor, remoteInbox string) error {
	accept := BuildAccept(conf, sender.ActorURI, followId, followActor)
	if err := StoreOutboundActivity(deps, sender.ActorURI, accept); err != nil {
		return err
	}
	return Deliver(conf, deps, sender, accept, []string{remoteInbox})
}

// SendLike sends a Like for a known object to its author.
func SendLike(conf *util.AppConfig, deps *Deps, sender *domain.Actor, objectURI string) error {
	err, author := authorOfObject(deps, objectURI)
	if err != nil {
		return err
	}

	like := BuildLike(conf, sender.ActorURI, objectURI, []string{author.ActorURI}, []string{})
	if err := StoreOutboundActivity(deps, sender.ActorURI, like); err != nil {
		return err
	}
	return Deliver(conf, deps, sender, like, []string{author.InboxURI})
}

// SendAnnounce boosts a known object to the sender's followers and its
// author.
func SendAnnounce(conf *util.AppConfig, deps *Deps, sender *domain.Actor, objectURI string) error {
	err, author := authorOfObject(deps, objectURI)
	if err != nil {
		return err
	}

	followers := conf.ActorURI(sender.PreferredUsername) + "/followers"
	announce := BuildAnnounce(conf, sender.ActorURI, objectURI,
		[]string{domain.PublicAddress}, []string{followers, author.ActorURI})
	if err := StoreOutboundActivity(deps, sender.ActorURI, announce); err != nil {
		return err
	}

	inboxes := CollectInboxes(conf, deps, sender, []string{followers})
	inboxes = append(inboxes, author.InboxURI)
	return Deliver(conf, deps, sender, announce, inboxes)
}

// SendUndo retracts a previously sent activity (Follow, Like or Announce)
// and delivers the Undo to the same audience the original went to.
func SendUndo(conf *util.AppConfig, deps *Deps, sender *domain.Actor, priorURI string) error {
	err, prior := deps.Database.ReadActivityByActivityURI(priorURI)
	if err != nil {
		return fmt.Errorf("%w: prior activity %s", ErrNotFound, priorURI)
	}
	if prior.ActorURI != sender.ActorURI {
		return fmt.Errorf("%w: %s was not sent by %s", ErrValidation, priorURI, sender.ActorURI)
	}

	priorDoc, err := prior.Document()
	if err != nil {
		return fmt.Errorf("stored activity %s does not parse: %w", priorURI, err)
	}

	inboxes, err := undoAudience(conf, deps, sender, priorDoc)
	if err != nil {
		return err
	}

	undo := BuildUndo(conf, sender.ActorURI, priorDoc,
		normalizeAddressList(priorDoc["to"]), normalizeAddressList(priorDoc["cc"]))
	if err := StoreOutboundActivity(deps, sender.ActorURI, undo); err != nil {
		return err
	}
	return Deliver(conf, deps, sender, undo, inboxes)
}

// undoAudience finds where an Undo must go: the followee for a Follow, the
// object's author plus our followers for Like and Announce.
func undoAudience(conf *util.AppConfig, deps *Deps, sender *domain.Actor, priorDoc map[string]any) ([]string, error) {
	priorType, _ := priorDoc["type"].(string)
	switch priorType {
	case "Follow":
		targetURI, _ := priorDoc["object"].(string)
		err, target := GetOrFetchActorWithDeps(context.Background(), targetURI, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve followee: %w", err)
		}
		return []string{target.InboxURI}, nil
	case "Like", "Announce":
		objectURI, _ := priorDoc["object"].(string)
		err, author := authorOfObject(deps, objectURI)
		if err != nil {
			return nil, err
		}
		followers := conf.ActorURI(sender.PreferredUsername) + "/followers"
		return append(CollectInboxes(conf, deps, sender, []string{followers}), author.InboxURI), nil
	default:
		return nil, fmt.Errorf("%w: cannot undo a %s", ErrValidation, priorType)
	}
}

// authorOfObject resolves the author of a stored object.
func authorOfObject(deps *Deps, objectURI string) (error, *domain.Actor) {
	err, stored := deps.Database.ReadActivityByObjectURI(objectURI)
	if err != nil {
		return fmt.Errorf("%w: object %s", ErrNotFound, objectURI), nil
	}
	doc, err := stored.Document()
	if err != nil {
		return fmt.Errorf("stored activity for %s does not parse: %w", objectURI, err), nil
	}
	object, _ := doc["object"].(map[string]any)
	attributedTo, _ := object["attributedTo"].(string)
	if attributedTo == "" {
		return fmt.Errorf("%w: object %s has no author", ErrValidation, objectURI), nil
	}
	return GetOrFetchActorWithDeps(context.Background(), attributedTo, deps)
}

// StoreOutboundActivity persists a locally built activity in normalized
// form. Duplicate ids are impossible for fresh uuids, so any conflict is
// surfaced.
func StoreOutboundActivity(deps *Deps, actorURI string, doc map[string]any) error {
	stored := cloneDocument(doc)
	if stored == nil {
		return fmt.Errorf("activity does not marshal")
	}
	NormalizeActivity(stored)

	activity := &domain.Activity{
		Data:     mustMarshal(stored),
		ActorURI: actorURI,
	}
	if err := deps.Database.CreateActivity(activity); err != nil {
		return fmt.Errorf("failed to store activity: %w", err)
	}
	return nil
}

// PostActivity delivers a signed activity document to one remote inbox and
// returns the response status. The caller classifies the status for retry.
func PostActivity(client HTTPClient, inboxURI string, activityJSON []byte, keyId string, privateKey *rsa.PrivateKey) (int, error) {
	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest(http.MethodPost, inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	if err := SignRequest(req, privateKey, keyId); err != nil {
		return 0, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	log.Printf("Outbox: Delivered to %s (status: %d)", inboxURI, resp.StatusCode)
	return resp.StatusCode, nil
}

// mustMarshal marshals v to JSON, panicking on error
func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return string(b)
}
