package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
)

// maxDateSkew is how far an inbound request's Date header may deviate from
// the local clock.
const maxDateSkew = 12 * time.Hour

// HandleInbox processes incoming ActivityPub activities. Per-actor inboxes
// and the shared inbox go through the same handler; the affected local
// actor is derived from the activity itself.
func HandleInbox(w http.ResponseWriter, r *http.Request, conf *util.AppConfig) {
	HandleInboxWithDeps(w, r, conf, DefaultDeps())
}

// HandleInboxWithDeps processes incoming ActivityPub activities.
// This version accepts dependencies for testing.
func HandleInboxWithDeps(w http.ResponseWriter, r *http.Request, conf *util.AppConfig, deps *Deps) {
	if r.Header.Get("Signature") == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	if mediaType := requestMediaType(r.Header.Get("Content-Type")); mediaType != "application/activity+json" {
		log.Printf("Inbox: Unsupported content type %q", r.Header.Get("Content-Type"))
		http.Error(w, "Unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	if err := checkDateHeader(r.Header.Get("Date")); err != nil {
		log.Printf("Inbox: %v", err)
		http.Error(w, "Stale or missing date", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize+1))
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body) > maxDocumentSize {
		log.Printf("Inbox: Request body too large")
		http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := checkDigestHeader(r.Header.Get("Digest"), body); err != nil {
		log.Printf("Inbox: %v", err)
		http.Error(w, "Digest mismatch", http.StatusBadRequest)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusUnprocessableEntity)
		return
	}

	activityType, _ := doc["type"].(string)
	actorURI, _ := doc["actor"].(string)
	log.Printf("Inbox: Received %s from %s", activityType, actorURI)

	if !util.IsURL(actorURI) {
		http.Error(w, "Invalid actor", http.StatusBadRequest)
		return
	}

	// Resolve the actor first; its key is what the signature verifies
	// against.
	err, actor := GetOrFetchActorWithDeps(r.Context(), actorURI, deps)
	if err != nil {
		log.Printf("Inbox: Failed to resolve actor %s: %v", actorURI, err)
		http.Error(w, "Failed to verify actor", http.StatusBadRequest)
		return
	}

	// Body was consumed above, restore it for signature verification
	r.Body = io.NopCloser(bytes.NewReader(body))

	signerURI, err := VerifyRequest(r, actor.PublicKeyPem)
	if err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}
	if signerURI != actor.ActorURI {
		log.Printf("Inbox: Signature key owner %s does not match actor %s", signerURI, actor.ActorURI)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	if err := ValidateActivity(r.Context(), doc, true, signerURI, deps.HTTPClient); err != nil {
		log.Printf("Inbox: Rejected %s from %s: %v", activityType, actorURI, err)
		if errors.Is(err, ErrBadSignature) {
			http.Error(w, "Invalid signature", http.StatusBadRequest)
		} else {
			http.Error(w, "Invalid activity", http.StatusUnprocessableEntity)
		}
		return
	}

	NormalizeActivity(doc)

	if err := processActivity(conf, deps, doc, actor); err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
			log.Printf("Inbox: Dropped %s from %s: %v", activityType, actorURI, err)
			http.Error(w, "Invalid activity", http.StatusUnprocessableEntity)
		default:
			log.Printf("Inbox: Failed to process %s from %s: %v", activityType, actorURI, err)
			http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// requestMediaType extracts the bare media type from a Content-Type header.
func requestMediaType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// checkDateHeader enforces the clock-skew window on inbound requests.
func checkDateHeader(date string) error {
	if date == "" {
		return fmt.Errorf("missing Date header")
	}
	parsed, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("unparseable Date header %q: %v", date, err)
	}
	skew := time.Since(parsed)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxDateSkew {
		return fmt.Errorf("Date header %q outside the accepted window", date)
	}
	return nil
}

// checkDigestHeader verifies the SHA-256 digest of the request body.
func checkDigestHeader(digest string, body []byte) error {
	if digest == "" {
		return fmt.Errorf("missing Digest header")
	}
	algo, value, found := strings.Cut(digest, "=")
	if !found || !strings.EqualFold(algo, "SHA-256") {
		return fmt.Errorf("unsupported Digest header %q", digest)
	}
	hash := sha256.Sum256(body)
	expected := base64.StdEncoding.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(value), []byte(expected)) != 1 {
		return fmt.Errorf("Digest header does not match body")
	}
	return nil
}

// processActivity stores a validated, normalized activity and applies its
// side effects. Local deliveries and inbound traffic share this path.
//
// Effects run on re-deliveries too: every handler is idempotent, so an
// activity whose preconditions were unmet on first arrival (an Undo racing
// ahead of its Follow) converges once the remote retries it. An activity
// whose preconditions fail is dropped, stored row included, so that retry
// is not mistaken for a duplicate.
func processActivity(conf *util.AppConfig, deps *Deps, doc map[string]any, actor *domain.Actor) error {
	activityId, _ := doc["id"].(string)

	record := &domain.Activity{
		Data:     mustMarshal(doc),
		ActorURI: actor.ActorURI,
	}

	stored := true
	if err := deps.Database.CreateActivity(record); err != nil {
		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to store activity: %w", err)
		}
		log.Printf("Inbox: Activity %s already stored", activityId)
		stored = false
	}

	err := applyActivity(conf, deps, doc, actor)
	if err != nil && stored && (errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)) {
		if delErr := deps.Database.DeleteActivityByActivityURI(activityId); delErr != nil {
			log.Printf("Inbox: Could not drop rejected activity %s: %v", activityId, delErr)
		}
	}
	return err
}

// applyActivity dispatches an activity to its type handler.
func applyActivity(conf *util.AppConfig, deps *Deps, doc map[string]any, actor *domain.Actor) error {
	activityType, _ := doc["type"].(string)

	switch activityType {
	case "Create":
		return handleCreate(conf, deps, doc, actor)
	case "Announce":
		return handleAnnounce(conf, deps, doc)
	case "Like":
		return handleLike(conf, deps, doc)
	case "Follow":
		return handleFollow(conf, deps, doc, actor)
	case "Undo":
		return handleUndo(deps, doc, actor)
	case "Accept":
		return handleAccept(conf, deps, doc)
	default:
		// Validation only lets the known types through
		return fmt.Errorf("%w: unsupported type %s", ErrValidation, activityType)
	}
}

// isUniqueViolation detects the SQLite unique-index error on data.id.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// handleCreate resolves the object's author and, for replies, one
// generation of the parent object. Secondary resolution failures are
// logged, never fatal; the Create itself is already stored.
func handleCreate(conf *util.AppConfig, deps *Deps, doc map[string]any, actor *domain.Actor) error {
	object, ok := doc["object"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: Create without embedded object", ErrValidation)
	}

	if attributedTo, _ := object["attributedTo"].(string); attributedTo != "" && attributedTo != actor.ActorURI {
		if err, _ := GetOrFetchActorWithDeps(context.Background(), attributedTo, deps); err != nil {
			log.Printf("Inbox: Could not resolve author %s: %v", attributedTo, err)
		}
	}

	if inReplyTo, _ := object["inReplyTo"].(string); inReplyTo != "" {
		if err := ensureObjectStored(conf, deps, inReplyTo); err != nil {
			log.Printf("Inbox: Could not resolve reply parent %s: %v", inReplyTo, err)
		}
	}

	return nil
}

// handleAnnounce makes sure the boosted object is stored locally.
func handleAnnounce(conf *util.AppConfig, deps *Deps, doc map[string]any) error {
	objectURI := objectURIOf(doc)
	if objectURI == "" {
		return fmt.Errorf("%w: Announce without object", ErrValidation)
	}
	if err := ensureObjectStored(conf, deps, objectURI); err != nil {
		log.Printf("Inbox: Could not resolve announced object %s: %v", objectURI, err)
	}
	return nil
}

// handleLike makes sure the liked object is stored locally.
func handleLike(conf *util.AppConfig, deps *Deps, doc map[string]any) error {
	objectURI := objectURIOf(doc)
	if objectURI == "" {
		return fmt.Errorf("%w: Like without object", ErrValidation)
	}
	if err := ensureObjectStored(conf, deps, objectURI); err != nil {
		log.Printf("Inbox: Could not resolve liked object %s: %v", objectURI, err)
	}
	return nil
}

// handleFollow appends a follower edge on the local target and answers
// with an Accept. The edge add is idempotent, so a re-delivered Follow
// costs nothing but still gets its Accept re-sent, letting a remote
// server that lost ours recover.
func handleFollow(conf *util.AppConfig, deps *Deps, doc map[string]any, actor *domain.Actor) error {
	targetURI := objectURIOf(doc)
	if targetURI == "" {
		return fmt.Errorf("%w: Follow without target", ErrValidation)
	}

	err, target := deps.Database.ReadActorByURI(targetURI)
	if err != nil || target == nil || !target.Local {
		return fmt.Errorf("%w: Follow target %s is not a local actor", ErrValidation, targetURI)
	}

	followId, _ := doc["id"].(string)
	entry := domain.FollowerEntry{
		Href:       actor.ActorURI,
		FollowDate: time.Now().UTC().Format(time.RFC3339),
		ActivityId: followId,
	}
	if err := deps.Database.AddFollower(target.ActorURI, entry); err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}
	log.Printf("Inbox: %s follows %s", actor.ActorURI, target.ActorURI)

	if err := SendAccept(conf, deps, target, followId, actor.ActorURI, actor.InboxURI); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}
	return nil
}

// handleUndo currently supports Undo(Follow): the referenced Follow must
// exist and belong to the Undo's actor, then the edge is removed.
func handleUndo(deps *Deps, doc map[string]any, actor *domain.Actor) error {
	object, ok := doc["object"].(map[string]any)
	if !ok {
		// Some servers send a bare URI; resolve it from storage.
		uri := objectURIOf(doc)
		if uri == "" {
			return fmt.Errorf("%w: Undo without object", ErrValidation)
		}
		err, prior := deps.Database.ReadActivityByActivityURI(uri)
		if err != nil || prior == nil {
			return fmt.Errorf("%w: undone activity %s", ErrNotFound, uri)
		}
		priorDoc, err := prior.Document()
		if err != nil {
			return fmt.Errorf("stored activity %s does not parse: %w", uri, err)
		}
		object = priorDoc
	}

	objectType, _ := object["type"].(string)
	if objectType != "Follow" {
		log.Printf("Inbox: Ignoring Undo of unsupported type %s", objectType)
		return nil
	}

	followId, _ := object["id"].(string)
	err, follow := deps.Database.ReadActivityByActivityURI(followId)
	if err != nil || follow == nil {
		return fmt.Errorf("%w: undone Follow %s", ErrNotFound, followId)
	}
	if follow.ActorURI != actor.ActorURI {
		return fmt.Errorf("%w: %s cannot undo a Follow by %s", ErrValidation, actor.ActorURI, follow.ActorURI)
	}

	followDoc, err := follow.Document()
	if err != nil {
		return fmt.Errorf("stored Follow %s does not parse: %w", followId, err)
	}
	followeeURI, _ := followDoc["object"].(string)
	if followeeURI == "" {
		return fmt.Errorf("%w: stored Follow %s has no target", ErrValidation, followId)
	}

	if err := deps.Database.RemoveFollower(followeeURI, actor.ActorURI); err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}
	log.Printf("Inbox: %s unfollowed %s", actor.ActorURI, followeeURI)
	return nil
}

// handleAccept records a remote Accept of a Follow a local actor sent. No
// edge is materialized here; the follower set lives on the followee's side.
func handleAccept(conf *util.AppConfig, deps *Deps, doc map[string]any) error {
	followId := objectURIOf(doc)
	if followId == "" {
		return fmt.Errorf("%w: Accept without object", ErrValidation)
	}

	err, follow := deps.Database.ReadActivityByActivityURI(followId)
	if err != nil || follow == nil {
		return fmt.Errorf("%w: accepted Follow %s was never sent", ErrNotFound, followId)
	}

	err, sender := deps.Database.ReadActorByURI(follow.ActorURI)
	if err != nil || sender == nil || !sender.Local {
		return fmt.Errorf("%w: accepted Follow %s was not sent by a local actor", ErrValidation, followId)
	}

	log.Printf("Inbox: Follow %s by %s was accepted", followId, sender.ActorURI)
	return nil
}

// objectURIOf extracts an object reference from an activity, whether the
// object is inlined or a bare URI.
func objectURIOf(doc map[string]any) string {
	switch object := doc["object"].(type) {
	case string:
		return object
	case map[string]any:
		id, _ := object["id"].(string)
		return id
	}
	return ""
}

// ensureObjectStored makes a referenced object retrievable locally. A miss
// triggers a fetch from the object's id; the fetched orphan is stored
// wrapped in a synthetic Create so lookups by object id succeed. The
// fetched object's own inReplyTo is not chased.
func ensureObjectStored(conf *util.AppConfig, deps *Deps, objectURI string) error {
	if err, stored := deps.Database.ReadActivityByObjectURI(objectURI); err == nil && stored != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()

	object, err := FetchJSON(ctx, objectURI, deps.HTTPClient)
	if err != nil {
		return err
	}
	// The fetch came from the object's own id, so it is authoritative.
	if err := ValidateObject(ctx, object, true, deps.HTTPClient); err != nil {
		return err
	}
	fetchedId, _ := object["id"].(string)
	if fetchedId != objectURI {
		return fmt.Errorf("%w: object at %s claims id %s", ErrValidation, objectURI, fetchedId)
	}
	NormalizeObject(object)

	attributedTo, _ := object["attributedTo"].(string)
	if err, _ := GetOrFetchActorWithDeps(ctx, attributedTo, deps); err != nil {
		return fmt.Errorf("author of %s does not resolve: %w", objectURI, err)
	}

	published, _ := object["published"].(string)
	if published == "" {
		published = time.Now().UTC().Format(time.RFC3339)
	}

	synthetic := map[string]any{
		"id":        objectURI + "#activity",
		"type":      "Create",
		"actor":     attributedTo,
		"published": published,
		"to":        object["to"],
		"cc":        object["cc"],
		"object":    object,
	}

	record := &domain.Activity{
		Data:     mustMarshal(synthetic),
		ActorURI: attributedTo,
	}
	if err := deps.Database.CreateActivity(record); err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("failed to store fetched object %s: %w", objectURI, err)
	}
	return nil
}
