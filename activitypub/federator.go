package activitypub

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/google/uuid"
)

// CollectInboxes expands the addressing of an outbound activity into a set
// of inbox URIs. The Public collection is skipped, the sender's own
// followers collection expands to the followers' inboxes, and plain actor
// URIs resolve to their inbox.
func CollectInboxes(conf *util.AppConfig, deps *Deps, sender *domain.Actor, addresses []string) []string {
	ownFollowers := conf.ActorURI(sender.PreferredUsername) + "/followers"

	seen := make(map[string]bool)
	var inboxes []string
	add := func(inbox string) {
		if inbox == "" || seen[inbox] {
			return
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}

	for _, address := range addresses {
		switch address {
		case "", domain.PublicAddress:
			continue
		case ownFollowers:
			for _, href := range sender.Followers.Hrefs() {
				err, follower := GetOrFetchActorWithDeps(context.Background(), href, deps)
				if err != nil {
					log.Printf("Federator: Could not resolve follower %s: %v", href, err)
					continue
				}
				add(follower.InboxURI)
			}
		case sender.ActorURI:
			continue
		default:
			err, actor := GetOrFetchActorWithDeps(context.Background(), address, deps)
			if err != nil {
				log.Printf("Federator: Could not resolve recipient %s: %v", address, err)
				continue
			}
			add(actor.InboxURI)
		}
	}
	return inboxes
}

// Deliver fans an activity out to a set of inboxes. Remote inboxes are
// enqueued for the delivery worker; inboxes on this host feed straight into
// the inbound processor without touching the network.
func Deliver(conf *util.AppConfig, deps *Deps, sender *domain.Actor, activity map[string]any, inboxes []string) error {
	if sender.PrivateKeyPem == "" {
		return fmt.Errorf("%w: sender %s has no private key", ErrValidation, sender.ActorURI)
	}

	activityJSON := mustMarshal(WithContext(activity))
	keyId := conf.KeyId(sender.PreferredUsername)

	seen := make(map[string]bool)
	var firstErr error
	queued := 0

	for _, inbox := range inboxes {
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true

		if isLocalInbox(conf, inbox) {
			if err := deliverLocally(conf, deps, sender, activity); err != nil {
				log.Printf("Federator: Local delivery of %v failed: %v", activity["id"], err)
				if firstErr == nil {
					firstErr = err
				}
			}
			continue
		}

		item := &domain.DeliveryQueueItem{
			Id:           uuid.New(),
			InboxURI:     inbox,
			ActivityJSON: activityJSON,
			KeyId:        keyId,
			Attempts:     0,
			NextRetryAt:  time.Now(),
			CreatedAt:    time.Now(),
		}
		if err := deps.Database.CreateDeliveryQueueItem(item); err != nil {
			log.Printf("Federator: Failed to queue delivery to %s: %v", inbox, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}

	if queued > 0 {
		log.Printf("Federator: Queued %v for %d inboxes", activity["id"], queued)
	}
	return firstErr
}

// deliverLocally short-circuits delivery to an inbox hosted on this node:
// the activity goes through the same processor inbound traffic does, with
// the local sender standing in for a verified signer.
func deliverLocally(conf *util.AppConfig, deps *Deps, sender *domain.Actor, activity map[string]any) error {
	doc := cloneDocument(activity)
	if doc == nil {
		return fmt.Errorf("activity does not marshal")
	}
	NormalizeActivity(doc)
	return processActivity(conf, deps, doc, sender)
}

// isLocalInbox reports whether an inbox URI points at this node.
func isLocalInbox(conf *util.AppConfig, inbox string) bool {
	parsed, err := url.Parse(inbox)
	if err != nil {
		return false
	}
	return conf.IsLocalHost(strings.ToLower(parsed.Hostname()))
}
