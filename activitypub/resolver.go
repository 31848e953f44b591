package activitypub

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"golang.org/x/sync/singleflight"
)

// actorRefreshAge is how old a remote actor document may get before a
// background refresh is scheduled. Stale copies are still served.
const actorRefreshAge = 48 * time.Hour

// resolveGroup coalesces concurrent fetches and refreshes of one actor URI
// into a single network request.
var resolveGroup singleflight.Group

// GetOrFetchActor resolves an actor URI using the production dependencies.
func GetOrFetchActor(uri string) (error, *domain.Actor) {
	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()
	return GetOrFetchActorWithDeps(ctx, uri, DefaultDeps())
}

// GetOrFetchActorWithDeps resolves an actor URI: a stored fresh actor is
// returned directly, a stored stale one is returned while a background
// refresh is scheduled, and an unknown one is fetched, validated and
// persisted first.
func GetOrFetchActorWithDeps(ctx context.Context, uri string, deps *Deps) (error, *domain.Actor) {
	err, actor := deps.Database.ReadActorByURI(uri)
	if err == nil && actor != nil {
		if actor.Stale(actorRefreshAge) {
			scheduleActorRefresh(uri, deps)
		}
		return nil, actor
	}

	result, err, _ := resolveGroup.Do("fetch:"+uri, func() (any, error) {
		return fetchAndStoreActor(ctx, uri, deps)
	})
	if err != nil {
		return err, nil
	}
	return nil, result.(*domain.Actor)
}

// fetchAndStoreActor pulls a remote actor document, validates it and
// persists it. A concurrent insert of the same actor is treated as success.
func fetchAndStoreActor(ctx context.Context, uri string, deps *Deps) (*domain.Actor, error) {
	doc, err := FetchJSON(ctx, uri, deps.HTTPClient)
	if err != nil {
		return nil, err
	}

	err, actor := ValidateActor(doc)
	if err != nil {
		return nil, err
	}
	if actor.ActorURI != uri {
		return nil, fmt.Errorf("%w: actor document at %s claims id %s", ErrValidation, uri, actor.ActorURI)
	}

	if err := deps.Database.CreateActor(actor); err != nil {
		// Lost a race against another insert of the same URI
		if readErr, stored := deps.Database.ReadActorByURI(uri); readErr == nil && stored != nil {
			return stored, nil
		}
		return nil, err
	}

	err, stored := deps.Database.ReadActorByURI(uri)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// scheduleActorRefresh refreshes a stale remote actor in the background.
// Only mutable profile fields are replaced; identity, locality and
// credentials never change on refresh.
func scheduleActorRefresh(uri string, deps *Deps) {
	go func() {
		_, _, _ = resolveGroup.Do("refresh:"+uri, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
			defer cancel()

			err, stored := deps.Database.ReadActorByURI(uri)
			if err != nil || stored == nil || !stored.Stale(actorRefreshAge) {
				return nil, err
			}

			doc, err := FetchJSON(ctx, uri, deps.HTTPClient)
			if err != nil {
				log.Printf("Resolver: refresh fetch of %s failed: %v", uri, err)
				return nil, err
			}
			err, fetched := ValidateActor(doc)
			if err != nil {
				log.Printf("Resolver: refresh of %s rejected: %v", uri, err)
				return nil, err
			}
			if fetched.ActorURI != uri {
				log.Printf("Resolver: refresh of %s claims id %s, skipping", uri, fetched.ActorURI)
				return nil, nil
			}

			stored.Name = fetched.Name
			stored.Summary = fetched.Summary
			stored.IconURL = fetched.IconURL
			stored.InboxURI = fetched.InboxURI
			stored.PublicKeyPem = fetched.PublicKeyPem

			if err := deps.Database.UpdateActorRefresh(stored); err != nil {
				log.Printf("Resolver: refresh update of %s failed: %v", uri, err)
				return nil, err
			}
			return nil, nil
		})
	}()
}
