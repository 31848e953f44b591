package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
)

// acceptedActivityTypes are the top-level activity types the inbox handles.
var acceptedActivityTypes = map[string]bool{
	"Accept":   true,
	"Announce": true,
	"Create":   true,
	"Follow":   true,
	"Like":     true,
	"Undo":     true,
}

// acceptedObjectTypes are the object types a Create may carry.
var acceptedObjectTypes = map[string]bool{
	"Note":    true,
	"Article": true,
}

// publicSynonyms are the spellings of the Public collection that remote
// servers use in addressing fields. All normalize to domain.PublicAddress.
var publicSynonyms = map[string]bool{
	"Public":    true,
	"as:Public": true,
	"https://www.w3.org/ns/activitystreams": true,
	domain.PublicAddress:                    true,
}

// ValidateActivity checks an inbound top-level activity. signatureOK tells
// whether the transport signature verified against the key of signerURI;
// unsigned activities are rejected outright. For a Create the embedded
// object is validated too, with the self-reference fetch performed when the
// signer is not the object's author.
func ValidateActivity(ctx context.Context, doc map[string]any, signatureOK bool, signerURI string, client HTTPClient) error {
	if !signatureOK {
		return fmt.Errorf("%w: unsigned activity", ErrBadSignature)
	}

	activityType, _ := doc["type"].(string)
	if !acceptedActivityTypes[activityType] {
		return fmt.Errorf("%w: unsupported activity type %q", ErrValidation, activityType)
	}

	id, _ := doc["id"].(string)
	if !util.IsURL(id) {
		return fmt.Errorf("%w: activity id %q is not an absolute URL", ErrValidation, id)
	}

	actor, _ := doc["actor"].(string)
	if !util.IsURL(actor) {
		return fmt.Errorf("%w: activity actor %q is not an absolute URL", ErrValidation, actor)
	}

	if published, _ := doc["published"].(string); published == "" {
		return fmt.Errorf("%w: activity %s has no published date", ErrValidation, id)
	}

	if activityType == "Create" {
		object, ok := doc["object"].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: Create %s carries no embedded object", ErrValidation, id)
		}
		attributedTo, _ := object["attributedTo"].(string)
		signatureCoversObject := signerURI != "" && signerURI == attributedTo
		if err := ValidateObject(ctx, object, signatureCoversObject, client); err != nil {
			return err
		}
	}

	return nil
}

// ValidateObject checks a Note or Article document. When the transport
// signature did not cover the object's author, the object is re-fetched
// from its id and the two parsed documents must be equal.
func ValidateObject(ctx context.Context, doc map[string]any, signatureCoversObject bool, client HTTPClient) error {
	objectType, _ := doc["type"].(string)
	if !acceptedObjectTypes[objectType] {
		return fmt.Errorf("%w: unsupported object type %q", ErrValidation, objectType)
	}

	id, _ := doc["id"].(string)
	if !util.IsURL(id) {
		return fmt.Errorf("%w: object id %q is not an absolute URL", ErrValidation, id)
	}

	attributedTo, _ := doc["attributedTo"].(string)
	if !util.IsURL(attributedTo) {
		return fmt.Errorf("%w: object %s attributedTo %q is not an absolute URL", ErrValidation, id, attributedTo)
	}

	if !signatureCoversObject {
		fetched, err := FetchJSON(ctx, id, client)
		if err != nil {
			return fmt.Errorf("%w: self-reference fetch of %s failed: %v", ErrValidation, id, err)
		}
		if !documentsEqual(doc, fetched) {
			return fmt.Errorf("%w: object %s differs from its authoritative copy", ErrValidation, id)
		}
	}

	return nil
}

// ValidateActor checks a remote actor document and maps it to a domain
// actor. Only Person actors with a parseable key and inbox are accepted.
func ValidateActor(doc map[string]any) (error, *domain.Actor) {
	actorType, _ := doc["type"].(string)
	if actorType != "Person" {
		return fmt.Errorf("%w: unsupported actor type %q", ErrValidation, actorType), nil
	}

	id, _ := doc["id"].(string)
	if !util.IsURL(id) {
		return fmt.Errorf("%w: actor id %q is not an absolute URL", ErrValidation, id), nil
	}

	username, _ := doc["preferredUsername"].(string)
	if ok, _ := util.IsValidUsername(username); !ok {
		return fmt.Errorf("%w: actor %s has invalid preferredUsername %q", ErrValidation, id, username), nil
	}

	inbox, _ := doc["inbox"].(string)
	if !util.IsURL(inbox) {
		return fmt.Errorf("%w: actor %s inbox %q is not an absolute URL", ErrValidation, id, inbox), nil
	}

	publicKeyPem := extractPublicKeyPem(doc)
	if publicKeyPem == "" {
		return fmt.Errorf("%w: actor %s has no public key", ErrValidation, id), nil
	}
	if _, err := ParsePublicKey(publicKeyPem); err != nil {
		return fmt.Errorf("%w: actor %s public key does not parse: %v", ErrValidation, id, err), nil
	}

	name, _ := doc["name"].(string)
	summary, _ := doc["summary"].(string)

	actor := &domain.Actor{
		ActorURI:          id,
		PreferredUsername: username,
		Name:              name,
		Summary:           SanitizeContent(summary),
		IconURL:           extractIconURL(doc),
		InboxURI:          inbox,
		PublicKeyPem:      publicKeyPem,
		Local:             false,
	}
	return nil, actor
}

func extractPublicKeyPem(doc map[string]any) string {
	publicKey, ok := doc["publicKey"].(map[string]any)
	if !ok {
		return ""
	}
	pem, _ := publicKey["publicKeyPem"].(string)
	return pem
}

func extractIconURL(doc map[string]any) string {
	switch icon := doc["icon"].(type) {
	case string:
		return icon
	case map[string]any:
		url, _ := icon["url"].(string)
		return url
	}
	return ""
}

// NormalizeActivity brings an activity document to its canonical stored
// form: no @context, to/cc always arrays of strings, Public synonyms
// rewritten, embedded object normalized. Idempotent.
func NormalizeActivity(doc map[string]any) {
	delete(doc, "@context")
	normalizeAddressing(doc)
	if object, ok := doc["object"].(map[string]any); ok {
		NormalizeObject(object)
	}
}

// NormalizeObject normalizes an object document like NormalizeActivity and
// additionally sanitizes its HTML fields. Idempotent.
func NormalizeObject(doc map[string]any) {
	delete(doc, "@context")
	normalizeAddressing(doc)
	if content, ok := doc["content"].(string); ok {
		doc["content"] = SanitizeContent(content)
	}
	if summary, ok := doc["summary"].(string); ok {
		doc["summary"] = SanitizeContent(summary)
	}
}

func normalizeAddressing(doc map[string]any) {
	doc["to"] = normalizeAddressList(doc["to"])
	doc["cc"] = normalizeAddressList(doc["cc"])
}

// normalizeAddressList coerces an addressing field to a []string, dropping
// non-string members and rewriting Public synonyms.
func normalizeAddressList(field any) []string {
	var raw []any
	switch v := field.(type) {
	case nil:
		return []string{}
	case string:
		raw = []any{v}
	case []any:
		raw = v
	case []string:
		for _, s := range v {
			raw = append(raw, s)
		}
	default:
		return []string{}
	}

	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		addr, ok := entry.(string)
		if !ok {
			continue
		}
		if publicSynonyms[addr] {
			addr = domain.PublicAddress
		}
		out = append(out, addr)
	}
	return out
}

// documentsEqual compares two parsed documents after normalizing copies of
// both, so addressing spelling differences do not fail the comparison.
func documentsEqual(a, b map[string]any) bool {
	ca, cb := cloneDocument(a), cloneDocument(b)
	if ca == nil || cb == nil {
		return false
	}
	NormalizeObject(ca)
	NormalizeObject(cb)
	return reflect.DeepEqual(ca, cb)
}

func cloneDocument(doc map[string]any) map[string]any {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	var clone map[string]any
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil
	}
	return clone
}
