package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
)

// webfingerResponse is the subset of a JRD document we care about.
type webfingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveAcct resolves a user@domain handle to an actor using the
// production dependencies.
func ResolveAcct(conf *util.AppConfig, acct string) (error, *domain.Actor) {
	return ResolveAcctWithDeps(conf, DefaultDeps(), acct)
}

// ResolveAcctWithDeps resolves a user@domain handle. Local handles go
// straight to the database; remote ones are looked up in the actor store
// first and discovered via WebFinger on a miss.
func ResolveAcctWithDeps(conf *util.AppConfig, deps *Deps, acct string) (error, *domain.Actor) {
	acct = strings.TrimPrefix(acct, "acct:")
	acct = strings.TrimPrefix(acct, "@")

	username, domainName, found := strings.Cut(acct, "@")
	if !found || username == "" || domainName == "" {
		return fmt.Errorf("%w: malformed acct %q", ErrValidation, acct), nil
	}

	if conf.IsLocalHost(domainName) {
		err, actor := deps.Database.ReadLocalActorByUsername(username)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: local actor %s", ErrNotFound, username), nil
		}
		return err, actor
	}

	if err, actor := deps.Database.ReadActorByAcct(acct); err == nil && actor != nil {
		return nil, actor
	}

	actorURI, err := webfingerLookup(context.Background(), deps.HTTPClient, username, domainName)
	if err != nil {
		return err, nil
	}
	return GetOrFetchActorWithDeps(context.Background(), actorURI, deps)
}

// webfingerLookup queries a remote host's WebFinger endpoint and returns
// the actor URI from the self link.
func webfingerLookup(ctx context.Context, client HTTPClient, username, domainName string) (string, error) {
	endpoint := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domainName, url.QueryEscape(fmt.Sprintf("acct:%s@%s", username, domainName)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: webfinger %s@%s: %v", ErrNetwork, username, domainName, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s@%s", ErrNotFound, username, domainName)
	case resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%w: %s@%s", ErrGone, username, domainName)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%w: webfinger %s@%s: status %d", ErrNetwork, username, domainName, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	var jrd webfingerResponse
	if err := json.Unmarshal(body, &jrd); err != nil {
		return "", fmt.Errorf("%w: webfinger response for %s@%s does not parse: %v", ErrValidation, username, domainName, err)
	}

	for _, link := range jrd.Links {
		if link.Rel != "self" {
			continue
		}
		if strings.Contains(link.Type, "activity+json") || strings.Contains(link.Type, "activitystreams") {
			if util.IsURL(link.Href) {
				return link.Href, nil
			}
		}
	}
	return "", fmt.Errorf("%w: webfinger for %s@%s has no self link", ErrNotFound, username, domainName)
}
