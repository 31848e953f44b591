package activitypub

import (
	"time"

	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/domain"
	"github.com/google/uuid"
)

// DBWrapper wraps the real database to implement the Database interface.
// This adapter allows the production code to use the existing db.GetDB() singleton
// while also supporting dependency injection for tests.
type DBWrapper struct {
	db *db.DB
}

// NewDBWrapper creates a new database wrapper around the singleton database
func NewDBWrapper() *DBWrapper {
	return &DBWrapper{db: db.GetDB()}
}

// Actor operations

func (w *DBWrapper) ReadActorByURI(uri string) (error, *domain.Actor) {
	return w.db.ReadActorByURI(uri)
}

func (w *DBWrapper) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return w.db.ReadLocalActorByUsername(username)
}

func (w *DBWrapper) ReadActorByAcct(acct string) (error, *domain.Actor) {
	return w.db.ReadActorByAcct(acct)
}

func (w *DBWrapper) CreateActor(actor *domain.Actor) error {
	return w.db.CreateActor(actor)
}

func (w *DBWrapper) UpdateActorRefresh(actor *domain.Actor) error {
	return w.db.UpdateActorRefresh(actor)
}

func (w *DBWrapper) DeleteActorByURI(uri string) error {
	return w.db.DeleteActorByURI(uri)
}

// Follower set operations

func (w *DBWrapper) AddFollower(actorURI string, entry domain.FollowerEntry) error {
	return w.db.AddFollower(actorURI, entry)
}

func (w *DBWrapper) RemoveFollower(actorURI string, href string) error {
	return w.db.RemoveFollower(actorURI, href)
}

func (w *DBWrapper) IsFollowedBy(followeeURI string, followerURI string) (error, bool) {
	return w.db.IsFollowedBy(followeeURI, followerURI)
}

func (w *DBWrapper) ReadFolloweesOf(actorURI string) (error, []string) {
	return w.db.ReadFolloweesOf(actorURI)
}

// Activity operations

func (w *DBWrapper) CreateActivity(activity *domain.Activity) error {
	return w.db.CreateActivity(activity)
}

func (w *DBWrapper) ReadActivityByActivityURI(uri string) (error, *domain.Activity) {
	return w.db.ReadActivityByActivityURI(uri)
}

func (w *DBWrapper) ReadActivityByObjectURI(objectURI string) (error, *domain.Activity) {
	return w.db.ReadActivityByObjectURI(objectURI)
}

func (w *DBWrapper) ReadRepliesByObjectURI(objectURI string) (error, *[]domain.Activity) {
	return w.db.ReadRepliesByObjectURI(objectURI)
}

func (w *DBWrapper) CountReactionsByObjectURI(activityType string, objectURI string) (error, int) {
	return w.db.CountReactionsByObjectURI(activityType, objectURI)
}

func (w *DBWrapper) DeleteActivityByActivityURI(uri string) error {
	return w.db.DeleteActivityByActivityURI(uri)
}

func (w *DBWrapper) DeleteActivityByObjectURI(objectURI string) error {
	return w.db.DeleteActivityByObjectURI(objectURI)
}

// Delivery queue operations

func (w *DBWrapper) CreateDeliveryQueueItem(item *domain.DeliveryQueueItem) error {
	return w.db.CreateDeliveryQueueItem(item)
}

func (w *DBWrapper) ReadPendingDeliveries(now time.Time, limit int) (error, []domain.DeliveryQueueItem) {
	return w.db.ReadPendingDeliveries(now, limit)
}

func (w *DBWrapper) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return w.db.UpdateDeliveryAttempt(id, attempts, nextRetryAt)
}

func (w *DBWrapper) DeleteDeliveryQueueItem(id uuid.UUID) error {
	return w.db.DeleteDeliveryQueueItem(id)
}

// Ensure DBWrapper implements Database interface
var _ Database = (*DBWrapper)(nil)
