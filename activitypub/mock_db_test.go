package activitypub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/google/uuid"
)

// MockDatabase is an in-memory implementation of the Database interface for
// testing. Actors are keyed by URI, activities enforce the same uniqueness
// on data.id the real schema does.
type MockDatabase struct {
	mu sync.RWMutex

	Actors        map[string]*domain.Actor
	Activities    []*domain.Activity
	DeliveryQueue map[uuid.UUID]*domain.DeliveryQueueItem

	// ForceError makes the named method fail with the given error.
	ForceError map[string]error

	nextId int64
}

func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		Actors:        make(map[string]*domain.Actor),
		DeliveryQueue: make(map[uuid.UUID]*domain.DeliveryQueueItem),
		ForceError:    make(map[string]error),
	}
}

func (m *MockDatabase) forced(method string) error {
	return m.ForceError[method]
}

// Actor operations

func (m *MockDatabase) ReadActorByURI(uri string) (error, *domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadActorByURI"); err != nil {
		return err, nil
	}
	actor, ok := m.Actors[uri]
	if !ok {
		return sql.ErrNoRows, nil
	}
	copied := *actor
	return nil, &copied
}

func (m *MockDatabase) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadLocalActorByUsername"); err != nil {
		return err, nil
	}
	for _, actor := range m.Actors {
		if actor.Local && actor.PreferredUsername == username {
			copied := *actor
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) ReadActorByAcct(acct string) (error, *domain.Actor) {
	name, host, found := strings.Cut(acct, "@")
	if !found {
		return m.ReadLocalActorByUsername(name)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadActorByAcct"); err != nil {
		return err, nil
	}
	for _, actor := range m.Actors {
		if actor.PreferredUsername == name && strings.Contains(actor.ActorURI, "//"+host+"/") {
			copied := *actor
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) CreateActor(actor *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("CreateActor"); err != nil {
		return err
	}
	if _, exists := m.Actors[actor.ActorURI]; exists {
		return fmt.Errorf("UNIQUE constraint failed: actors.actor_uri")
	}
	m.nextId++
	copied := *actor
	copied.Id = m.nextId
	copied.CreatedAt = time.Now()
	copied.ModifiedAt = time.Now()
	m.Actors[actor.ActorURI] = &copied
	return nil
}

func (m *MockDatabase) UpdateActorRefresh(actor *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("UpdateActorRefresh"); err != nil {
		return err
	}
	stored, ok := m.Actors[actor.ActorURI]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Name = actor.Name
	stored.Summary = actor.Summary
	stored.IconURL = actor.IconURL
	stored.InboxURI = actor.InboxURI
	stored.PublicKeyPem = actor.PublicKeyPem
	stored.ModifiedAt = time.Now()
	return nil
}

func (m *MockDatabase) DeleteActorByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("DeleteActorByURI"); err != nil {
		return err
	}
	delete(m.Actors, uri)
	return nil
}

// Follower set operations

func (m *MockDatabase) AddFollower(actorURI string, entry domain.FollowerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("AddFollower"); err != nil {
		return err
	}
	actor, ok := m.Actors[actorURI]
	if !ok {
		return sql.ErrNoRows
	}
	actor.Followers.Add(entry)
	return nil
}

func (m *MockDatabase) RemoveFollower(actorURI string, href string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("RemoveFollower"); err != nil {
		return err
	}
	actor, ok := m.Actors[actorURI]
	if !ok {
		return sql.ErrNoRows
	}
	actor.Followers.Remove(href)
	return nil
}

func (m *MockDatabase) IsFollowedBy(followeeURI string, followerURI string) (error, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("IsFollowedBy"); err != nil {
		return err, false
	}
	actor, ok := m.Actors[followeeURI]
	if !ok {
		return sql.ErrNoRows, false
	}
	return nil, actor.Followers.Contains(followerURI)
}

func (m *MockDatabase) ReadFolloweesOf(actorURI string) (error, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadFolloweesOf"); err != nil {
		return err, nil
	}
	var uris []string
	for _, actor := range m.Actors {
		if actor.Followers.Contains(actorURI) {
			uris = append(uris, actor.ActorURI)
		}
	}
	return nil, uris
}

// Activity operations

func (m *MockDatabase) CreateActivity(activity *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("CreateActivity"); err != nil {
		return err
	}
	doc, err := activity.Document()
	if err != nil {
		return err
	}
	id, _ := doc["id"].(string)
	for _, stored := range m.Activities {
		storedDoc, err := stored.Document()
		if err != nil {
			continue
		}
		if storedId, _ := storedDoc["id"].(string); storedId == id {
			return fmt.Errorf("UNIQUE constraint failed: index 'idx_activities_activity_uri'")
		}
	}
	m.nextId++
	copied := *activity
	copied.Id = m.nextId
	copied.CreatedAt = time.Now()
	copied.ModifiedAt = time.Now()
	m.Activities = append(m.Activities, &copied)
	return nil
}

func (m *MockDatabase) ReadActivityByActivityURI(uri string) (error, *domain.Activity) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadActivityByActivityURI"); err != nil {
		return err, nil
	}
	for _, stored := range m.Activities {
		doc, err := stored.Document()
		if err != nil {
			continue
		}
		if id, _ := doc["id"].(string); id == uri {
			copied := *stored
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) ReadActivityByObjectURI(objectURI string) (error, *domain.Activity) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadActivityByObjectURI"); err != nil {
		return err, nil
	}
	for i := len(m.Activities) - 1; i >= 0; i-- {
		doc, err := m.Activities[i].Document()
		if err != nil {
			continue
		}
		if docType, _ := doc["type"].(string); docType != "Create" {
			continue
		}
		object, ok := doc["object"].(map[string]any)
		if !ok {
			continue
		}
		if id, _ := object["id"].(string); id == objectURI {
			copied := *m.Activities[i]
			return nil, &copied
		}
	}
	return sql.ErrNoRows, nil
}

func (m *MockDatabase) ReadRepliesByObjectURI(objectURI string) (error, *[]domain.Activity) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadRepliesByObjectURI"); err != nil {
		return err, nil
	}
	var replies []domain.Activity
	for _, stored := range m.Activities {
		doc, err := stored.Document()
		if err != nil {
			continue
		}
		object, ok := doc["object"].(map[string]any)
		if !ok {
			continue
		}
		if inReplyTo, _ := object["inReplyTo"].(string); inReplyTo == objectURI {
			replies = append(replies, *stored)
		}
	}
	return nil, &replies
}

func (m *MockDatabase) CountReactionsByObjectURI(activityType string, objectURI string) (error, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("CountReactionsByObjectURI"); err != nil {
		return err, 0
	}
	count := 0
	for _, stored := range m.Activities {
		doc, err := stored.Document()
		if err != nil {
			continue
		}
		docType, _ := doc["type"].(string)
		object, _ := doc["object"].(string)
		if docType == activityType && object == objectURI {
			count++
		}
	}
	return nil, count
}

func (m *MockDatabase) DeleteActivityByActivityURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("DeleteActivityByActivityURI"); err != nil {
		return err
	}
	kept := m.Activities[:0]
	for _, stored := range m.Activities {
		doc, err := stored.Document()
		if err == nil {
			if id, _ := doc["id"].(string); id == uri {
				continue
			}
		}
		kept = append(kept, stored)
	}
	m.Activities = kept
	return nil
}

func (m *MockDatabase) DeleteActivityByObjectURI(objectURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("DeleteActivityByObjectURI"); err != nil {
		return err
	}
	kept := m.Activities[:0]
	for _, stored := range m.Activities {
		doc, err := stored.Document()
		if err != nil {
			kept = append(kept, stored)
			continue
		}
		object, ok := doc["object"].(map[string]any)
		if ok {
			if id, _ := object["id"].(string); id == objectURI {
				continue
			}
		}
		kept = append(kept, stored)
	}
	m.Activities = kept
	return nil
}

// Delivery queue operations

func (m *MockDatabase) CreateDeliveryQueueItem(item *domain.DeliveryQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("CreateDeliveryQueueItem"); err != nil {
		return err
	}
	copied := *item
	m.DeliveryQueue[item.Id] = &copied
	return nil
}

func (m *MockDatabase) ReadPendingDeliveries(now time.Time, limit int) (error, []domain.DeliveryQueueItem) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.forced("ReadPendingDeliveries"); err != nil {
		return err, nil
	}
	var items []domain.DeliveryQueueItem
	for _, item := range m.DeliveryQueue {
		if !item.NextRetryAt.After(now) {
			items = append(items, *item)
		}
		if len(items) >= limit {
			break
		}
	}
	return nil, items
}

func (m *MockDatabase) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("UpdateDeliveryAttempt"); err != nil {
		return err
	}
	item, ok := m.DeliveryQueue[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Attempts = attempts
	item.NextRetryAt = nextRetryAt
	return nil
}

func (m *MockDatabase) DeleteDeliveryQueueItem(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.forced("DeleteDeliveryQueueItem"); err != nil {
		return err
	}
	delete(m.DeliveryQueue, id)
	return nil
}

// QueuedInboxes returns the inbox URIs of all queued deliveries, for
// assertions on fan-out.
func (m *MockDatabase) QueuedInboxes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var inboxes []string
	for _, item := range m.DeliveryQueue {
		inboxes = append(inboxes, item.InboxURI)
	}
	return inboxes
}

// StoredActivityTypes returns the types of all stored activities.
func (m *MockDatabase) StoredActivityTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var types []string
	for _, stored := range m.Activities {
		doc, err := stored.Document()
		if err != nil {
			continue
		}
		docType, _ := doc["type"].(string)
		types = append(types, docType)
	}
	return types
}

var _ Database = (*MockDatabase)(nil)

// MockResponse is a canned HTTP response for MockHTTPClient.
type MockResponse struct {
	StatusCode int
	Body       string
}

// MockHTTPClient serves canned responses keyed by URL and records every
// request it sees. URLs without a canned response get a 404.
type MockHTTPClient struct {
	mu        sync.Mutex
	Responses map[string]MockResponse
	Requests  []*http.Request
	Err       error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{Responses: make(map[string]MockResponse)}
}

// RespondJSON registers a canned 200 response with the given document.
func (c *MockHTTPClient) RespondJSON(url string, doc map[string]any) {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responses[url] = MockResponse{StatusCode: http.StatusOK, Body: string(raw)}
}

func (c *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)

	if c.Err != nil {
		return nil, c.Err
	}

	url := req.URL.String()
	canned, ok := c.Responses[url]
	if !ok {
		canned = MockResponse{StatusCode: http.StatusNotFound, Body: "not found"}
	}
	return &http.Response{
		StatusCode: canned.StatusCode,
		Body:       io.NopCloser(strings.NewReader(canned.Body)),
		Header:     make(http.Header),
	}, nil
}

// RequestCount returns how many requests the client has seen.
func (c *MockHTTPClient) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

var _ HTTPClient = (*MockHTTPClient)(nil)

// newMockDeps bundles a fresh mock database and HTTP client.
func newMockDeps() (*Deps, *MockDatabase, *MockHTTPClient) {
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	return &Deps{Database: database, HTTPClient: client}, database, client
}

// newTestConfig returns a config for a node at https://local.example.
func newTestConfig() *util.AppConfig {
	return &util.AppConfig{
		Endpoint: util.EndpointConf{
			BaseScheme: "https",
			BaseDomain: "local.example",
			Host:       "127.0.0.1",
			Port:       8080,
		},
		Node: util.NodeConf{
			Name:                 "testnode",
			RegistrationsEnabled: true,
		},
		NodeInfo: util.NodeInfoConf{Enabled: true},
	}
}
