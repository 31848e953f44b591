package web

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
)

func TestParsePageParam(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"1", 1},
		{"42", 42},
		{"0", 0},
		{"-3", 0},
		{"abc", 0},
		{"1.5", 0},
	}
	for _, c := range cases {
		if got := ParsePageParam(c.in); got != c.want {
			t.Errorf("ParsePageParam(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestWantsActivityJSON(t *testing.T) {
	cases := []struct {
		accept string
		want   bool
	}{
		{"application/activity+json", true},
		{`application/ld+json; profile="https://www.w3.org/ns/activitystreams"`, true},
		{"application/activity+json, application/ld+json", true},
		{"text/html,application/xhtml+xml", false},
		{"*/*", false},
		{"", false},
	}
	for _, c := range cases {
		if got := wantsActivityJSON(c.accept); got != c.want {
			t.Errorf("wantsActivityJSON(%q) = %v, want %v", c.accept, got, c.want)
		}
	}
}

func TestGetWebFingerNotFound(t *testing.T) {
	if GetWebFingerNotFound() != `{"error": "User not found."}` {
		t.Errorf("Unexpected not-found body %q", GetWebFingerNotFound())
	}
}

func collectionActor() *domain.Actor {
	return &domain.Actor{
		ActorURI: "https://local.example/actors/alyssa",
		Followers: domain.Followers{
			ActivityPub: []domain.FollowerEntry{
				{Href: "https://remote.example/actors/ben", FollowDate: "2025-05-01T00:00:00Z", ActivityId: "x"},
				{Href: "https://other.example/actors/cy", FollowDate: "2025-05-02T00:00:00Z", ActivityId: "y"},
			},
		},
	}
}

func TestGetFollowersCollection(t *testing.T) {
	raw := GetFollowersCollection(collectionActor())

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Collection does not parse: %v", err)
	}
	if doc["type"] != "OrderedCollection" {
		t.Errorf("Unexpected type %v", doc["type"])
	}
	if doc["id"] != "https://local.example/actors/alyssa/followers" {
		t.Errorf("Unexpected id %v", doc["id"])
	}
	if doc["totalItems"] != float64(2) {
		t.Errorf("Unexpected totalItems %v", doc["totalItems"])
	}
	if doc["first"] != "https://local.example/actors/alyssa/followers?page=1" {
		t.Errorf("Unexpected first %v", doc["first"])
	}
}

func TestGetFollowersPage(t *testing.T) {
	raw := GetFollowersPage(collectionActor(), 1)

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Page does not parse: %v", err)
	}
	if doc["type"] != "OrderedCollectionPage" {
		t.Errorf("Unexpected type %v", doc["type"])
	}
	if doc["partOf"] != "https://local.example/actors/alyssa/followers" {
		t.Errorf("Unexpected partOf %v", doc["partOf"])
	}

	items, ok := doc["orderedItems"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("Unexpected orderedItems %v", doc["orderedItems"])
	}
	if items[0] != "https://remote.example/actors/ben" {
		t.Errorf("Expected follower hrefs in arrival order, got %v", items)
	}
}

func TestGetFollowingCollectionEmpty(t *testing.T) {
	actor := &domain.Actor{ActorURI: "https://local.example/actors/alyssa"}

	raw := GetFollowingCollection(actor, nil)
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Collection does not parse: %v", err)
	}
	if doc["totalItems"] != float64(0) {
		t.Errorf("Unexpected totalItems %v", doc["totalItems"])
	}

	// A nil followee slice still renders an empty array, not null
	raw = GetFollowingPage(actor, nil, 1)
	if !strings.Contains(raw, `"orderedItems":[]`) {
		t.Errorf("Expected empty orderedItems array, got %s", raw)
	}
}

func TestIsPublicDocument(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
		want bool
	}{
		{"public in to", map[string]any{"to": []any{domain.PublicAddress}}, true},
		{"public in cc", map[string]any{"to": []any{}, "cc": []any{domain.PublicAddress}}, true},
		{"string slice addressing", map[string]any{"to": []string{domain.PublicAddress}}, true},
		{"followers only", map[string]any{"to": []any{"https://local.example/actors/a/followers"}}, false},
		{"no addressing", map[string]any{}, false},
		{"scalar to", map[string]any{"to": domain.PublicAddress}, false},
	}
	for _, c := range cases {
		if got := isPublicDocument(c.doc); got != c.want {
			t.Errorf("%s: isPublicDocument = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestGetWellKnownNodeInfo(t *testing.T) {
	conf := &util.AppConfig{
		Endpoint: util.EndpointConf{BaseScheme: "https", BaseDomain: "local.example"},
	}

	raw := GetWellKnownNodeInfo(conf)
	var doc WellKnownNodeInfo
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Discovery document does not parse: %v", err)
	}
	if len(doc.Links) != 1 {
		t.Fatalf("Expected one link, got %d", len(doc.Links))
	}
	if doc.Links[0].Rel != "http://nodeinfo.diaspora.software/ns/schema/2.0" {
		t.Errorf("Unexpected rel %s", doc.Links[0].Rel)
	}
	if doc.Links[0].Href != "https://local.example/nodeinfo/2.0.json" {
		t.Errorf("Unexpected href %s", doc.Links[0].Href)
	}
}
