package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Toromino/kibou-sub000/util"
)

// acceptHeader is sent on outbound object and actor fetches.
const acceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// maxDocumentSize caps remote response bodies at 1 MiB.
const maxDocumentSize = 1 << 20

// FetchDocument fetches an ActivityPub document from a remote server.
// Responses above maxDocumentSize yield ErrTooLarge, a 410 yields ErrGone,
// a 404 yields ErrNotFound and any other failure yields ErrNetwork.
func FetchDocument(ctx context.Context, uri string, client HTTPClient) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid fetch uri %s: %v", ErrNetwork, uri, err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrNetwork, uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrGone, uri)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: fetching %s: status %d", ErrNetwork, uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrNetwork, uri, err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, uri)
	}
	return body, nil
}

// FetchJSON fetches a remote document and decodes it into a generic map.
func FetchJSON(ctx context.Context, uri string, client HTTPClient) (map[string]any, error) {
	body, err := FetchDocument(ctx, uri, client)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object: %v", ErrValidation, uri, err)
	}
	return doc, nil
}
