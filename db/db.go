package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"log"
	"time"

	"github.com/Toromino/kibou-sub000/domain"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

// followerCasRetries bounds the compare-and-set loop on the followers column.
const followerCasRetries = 3

// Actors
const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors(
                        id INTEGER PRIMARY KEY AUTOINCREMENT,
                        actor_uri varchar(500) UNIQUE NOT NULL,
                        preferred_username varchar(100) NOT NULL,
                        name varchar(200),
                        summary text,
                        icon_url varchar(500),
                        inbox_uri varchar(500),
                        local int default 0,
                        email varchar(200),
                        password_hash varchar(100),
                        keys text,
                        followers text,
                        created_at timestamp default current_timestamp,
                        modified_at timestamp default current_timestamp
                        )`
	sqlInsertActor = `INSERT INTO actors(actor_uri, preferred_username, name, summary, icon_url, inbox_uri, local, email, password_hash, keys, followers, created_at, modified_at)
                                                            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlActorColumns = `id, actor_uri, preferred_username, name, summary, icon_url, inbox_uri, local, email, password_hash, keys, followers, created_at, modified_at`

	sqlSelectActorByURI      = `SELECT ` + sqlActorColumns + ` FROM actors WHERE actor_uri = ?`
	sqlSelectActorById       = `SELECT ` + sqlActorColumns + ` FROM actors WHERE id = ?`
	sqlSelectLocalActor      = `SELECT ` + sqlActorColumns + ` FROM actors WHERE preferred_username = ? AND local = 1`
	sqlSelectActorByAcct     = `SELECT ` + sqlActorColumns + ` FROM actors WHERE preferred_username = ? AND actor_uri LIKE ? ESCAPE '\'`
	sqlSelectFollowersByURI  = `SELECT followers FROM actors WHERE actor_uri = ?`
	sqlUpdateActorFollowers  = `UPDATE actors SET followers = ?, modified_at = ? WHERE actor_uri = ? AND followers = ?`
	sqlUpdateActorRefresh    = `UPDATE actors SET name = ?, summary = ?, icon_url = ?, inbox_uri = ?, keys = ?, modified_at = ? WHERE actor_uri = ?`
	sqlDeleteActorByURI      = `DELETE FROM actors WHERE actor_uri = ?`
	sqlSelectFolloweeActors  = `SELECT actor_uri FROM actors
                                                            WHERE EXISTS (
                                                                SELECT 1 FROM json_each(actors.followers, '$.activitypub')
                                                                WHERE json_extract(json_each.value, '$.href') = ?
                                                            )
                                                            ORDER BY actor_uri ASC`
	sqlCountLocalActors      = `SELECT COUNT(*) FROM actors WHERE local = 1`
	sqlCountLocalPosts       = `SELECT COUNT(*) FROM activities WHERE json_extract(data, '$.type') = 'Create' AND actor_uri IN (SELECT actor_uri FROM actors WHERE local = 1)`
	sqlCountActiveMonth      = `SELECT COUNT(DISTINCT actor_uri) FROM activities WHERE created_at >= datetime('now', '-30 days') AND actor_uri IN (SELECT actor_uri FROM actors WHERE local = 1)`
	sqlCountActiveHalfYear   = `SELECT COUNT(DISTINCT actor_uri) FROM activities WHERE created_at >= datetime('now', '-180 days') AND actor_uri IN (SELECT actor_uri FROM actors WHERE local = 1)`
)

// actorKeys is the JSON document stored in the keys column. Private stays
// empty for remote actors.
type actorKeys struct {
	Public  string `json:"public"`
	Private string `json:"private,omitempty"`
}

func (db *DB) CreateActor(actor *domain.Actor) error {
	keys, err := json.Marshal(actorKeys{Public: actor.PublicKeyPem, Private: actor.PrivateKeyPem})
	if err != nil {
		return err
	}
	followers, err := json.Marshal(actor.Followers)
	if err != nil {
		return err
	}

	local := 0
	if actor.Local {
		local = 1
	}
	now := time.Now().Format("2006-01-02 15:04:05")

	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			actor.ActorURI,
			actor.PreferredUsername,
			actor.Name,
			actor.Summary,
			actor.IconURL,
			actor.InboxURI,
			local,
			actor.Email,
			actor.PasswordHash,
			string(keys),
			string(followers),
			now,
			now,
		)
		return err
	})
}

func (db *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByURI, uri))
}

func (db *DB) ReadActorById(id int64) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id))
}

func (db *DB) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectLocalActor, username))
}

// ReadActorByAcct looks up an actor by "name" or "name@host". The bare form
// only matches local actors; the full form matches any stored actor whose
// URI authority contains the host.
func (db *DB) ReadActorByAcct(acct string) (error, *domain.Actor) {
	name, host, found := strings.Cut(acct, "@")
	if !found {
		return db.ReadLocalActorByUsername(name)
	}

	if ok, _ := util.IsValidUsername(name); !ok {
		return sql.ErrNoRows, nil
	}
	if !util.IsValidQueryLiteral(host) {
		return sql.ErrNoRows, nil
	}

	// Escape LIKE special characters to prevent wildcard injection
	escapedHost := strings.ReplaceAll(host, "\\", "\\\\") // Escape backslash first
	escapedHost = strings.ReplaceAll(escapedHost, "%", "\\%")
	escapedHost = strings.ReplaceAll(escapedHost, "_", "\\_")

	return db.scanActor(db.db.QueryRow(sqlSelectActorByAcct, name, "%//"+escapedHost+"/%"))
}

// UpdateActorRefresh replaces only the mutable profile fields of an actor.
// The URI, locality, credentials and created timestamp never change here.
func (db *DB) UpdateActorRefresh(actor *domain.Actor) error {
	keys, err := json.Marshal(actorKeys{Public: actor.PublicKeyPem, Private: actor.PrivateKeyPem})
	if err != nil {
		return err
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorRefresh,
			actor.Name,
			actor.Summary,
			actor.IconURL,
			actor.InboxURI,
			string(keys),
			time.Now().Format("2006-01-02 15:04:05"),
			actor.ActorURI,
		)
		return err
	})
}

func (db *DB) DeleteActorByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActorByURI, uri)
		return err
	})
}

// UpdateActorFollowers writes the followers column only if it still holds
// the previously read value. Returns whether the swap happened.
func (db *DB) UpdateActorFollowers(actorURI string, oldRaw string, newRaw string) (error, bool) {
	var updated bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateActorFollowers, newRaw, time.Now().Format("2006-01-02 15:04:05"), actorURI, oldRaw)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		return nil
	})
	return err, updated
}

// AddFollower appends a follower edge to the actor's followers set. A href
// that is already present is an idempotent no-op. Concurrent updates are
// resolved by re-reading and retrying the compare-and-set.
func (db *DB) AddFollower(actorURI string, entry domain.FollowerEntry) error {
	for range followerCasRetries {
		err, raw, followers := db.readFollowers(actorURI)
		if err != nil {
			return err
		}

		if !followers.Add(entry) {
			return nil
		}

		newRaw, err := json.Marshal(followers)
		if err != nil {
			return err
		}

		err, updated := db.UpdateActorFollowers(actorURI, raw, string(newRaw))
		if err != nil {
			return err
		}
		if updated {
			return nil
		}
	}
	return fmt.Errorf("followers update for %s kept conflicting after %d attempts", actorURI, followerCasRetries)
}

// RemoveFollower deletes the follower edge for href. A missing edge is an
// idempotent no-op.
func (db *DB) RemoveFollower(actorURI string, href string) error {
	for range followerCasRetries {
		err, raw, followers := db.readFollowers(actorURI)
		if err != nil {
			return err
		}

		if !followers.Remove(href) {
			return nil
		}

		newRaw, err := json.Marshal(followers)
		if err != nil {
			return err
		}

		err, updated := db.UpdateActorFollowers(actorURI, raw, string(newRaw))
		if err != nil {
			return err
		}
		if updated {
			return nil
		}
	}
	return fmt.Errorf("followers update for %s kept conflicting after %d attempts", actorURI, followerCasRetries)
}

// IsFollowedBy reports whether follower already has an accepted edge on
// the followee's followers set.
func (db *DB) IsFollowedBy(followeeURI string, followerURI string) (error, bool) {
	err, _, followers := db.readFollowers(followeeURI)
	if err != nil {
		return err, false
	}
	return nil, followers.Contains(followerURI)
}

// ReadFolloweesOf returns the URIs of all actors the given actor follows,
// i.e. every stored actor whose followers set contains the actor.
func (db *DB) ReadFolloweesOf(actorURI string) (error, []string) {
	rows, err := db.db.Query(sqlSelectFolloweeActors, actorURI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return err, nil
		}
		uris = append(uris, uri)
	}
	if err = rows.Err(); err != nil {
		return err, nil
	}
	return nil, uris
}

// readFollowers returns the raw followers column alongside the parsed set,
// so compare-and-set updates can match the exact stored bytes.
func (db *DB) readFollowers(actorURI string) (error, string, domain.Followers) {
	var raw string
	err := db.db.QueryRow(sqlSelectFollowersByURI, actorURI).Scan(&raw)
	if err != nil {
		return err, "", domain.Followers{}
	}

	var followers domain.Followers
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &followers); err != nil {
			return err, "", domain.Followers{}
		}
	}
	return nil, raw, followers
}

func (db *DB) scanActor(row *sql.Row) (error, *domain.Actor) {
	var actor domain.Actor
	var name, summary, iconURL, inboxURI, email, passwordHash sql.NullString
	var keysStr, followersStr sql.NullString
	var local int
	var createdAtStr, modifiedAtStr string

	err := row.Scan(
		&actor.Id,
		&actor.ActorURI,
		&actor.PreferredUsername,
		&name,
		&summary,
		&iconURL,
		&inboxURI,
		&local,
		&email,
		&passwordHash,
		&keysStr,
		&followersStr,
		&createdAtStr,
		&modifiedAtStr,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}

	actor.Name = name.String
	actor.Summary = summary.String
	actor.IconURL = iconURL.String
	actor.InboxURI = inboxURI.String
	actor.Local = local == 1
	actor.Email = email.String
	actor.PasswordHash = passwordHash.String

	if keysStr.Valid && keysStr.String != "" {
		var keys actorKeys
		if err := json.Unmarshal([]byte(keysStr.String), &keys); err != nil {
			return err, nil
		}
		actor.PublicKeyPem = keys.Public
		actor.PrivateKeyPem = keys.Private
	}

	if followersStr.Valid && followersStr.String != "" {
		if err := json.Unmarshal([]byte(followersStr.String), &actor.Followers); err != nil {
			return err, nil
		}
	}

	if parsedTime, err := parseTimestamp(createdAtStr); err == nil {
		actor.CreatedAt = parsedTime
	}
	if parsedTime, err := parseTimestamp(modifiedAtStr); err == nil {
		actor.ModifiedAt = parsedTime
	}

	return nil, &actor
}

// Activities
const (
	sqlInsertActivity = `INSERT INTO activities(data, actor_uri, created_at, modified_at) VALUES (?, ?, ?, ?)`

	sqlActivityColumns = `id, data, actor_uri, created_at, modified_at`

	sqlSelectActivityById          = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE id = ?`
	sqlSelectActivityByActivityURI = `SELECT ` + sqlActivityColumns + ` FROM activities WHERE json_extract(data, '$.id') = ?`
	sqlSelectActivityByObjectURI   = `SELECT ` + sqlActivityColumns + ` FROM activities
                                                            WHERE json_extract(data, '$.type') = 'Create' AND json_extract(data, '$.object.id') = ?
                                                            ORDER BY created_at DESC LIMIT 1`
	sqlSelectRepliesByObjectURI = `SELECT ` + sqlActivityColumns + ` FROM activities
                                                            WHERE json_extract(data, '$.object.inReplyTo') = ?
                                                            ORDER BY created_at ASC`
	sqlCountReactionsByObjectURI   = `SELECT COUNT(*) FROM activities WHERE json_extract(data, '$.type') = ? AND json_extract(data, '$.object') = ?`
	sqlDeleteActivityByActivityURI = `DELETE FROM activities WHERE json_extract(data, '$.id') = ?`
	sqlDeleteActivityByObjectURI   = `DELETE FROM activities WHERE json_extract(data, '$.object.id') = ?`

	// Public means addressed to the ActivityStreams Public collection in to or cc
	sqlSelectOutboxActivities = `SELECT ` + sqlActivityColumns + ` FROM activities
                                                            WHERE actor_uri = ?
                                                            AND json_extract(data, '$.type') != 'Undo'
                                                            AND (EXISTS (SELECT 1 FROM json_each(data, '$.to') WHERE json_each.value = ?)
                                                              OR EXISTS (SELECT 1 FROM json_each(data, '$.cc') WHERE json_each.value = ?))
                                                            ORDER BY created_at DESC
                                                            LIMIT ? OFFSET ?`
	sqlCountOutboxActivities = `SELECT COUNT(*) FROM activities
                                                            WHERE actor_uri = ?
                                                            AND json_extract(data, '$.type') != 'Undo'
                                                            AND (EXISTS (SELECT 1 FROM json_each(data, '$.to') WHERE json_each.value = ?)
                                                              OR EXISTS (SELECT 1 FROM json_each(data, '$.cc') WHERE json_each.value = ?))`
	sqlSelectPublicNotesByActor = `SELECT ` + sqlActivityColumns + ` FROM activities
                                                            WHERE actor_uri = ?
                                                            AND json_extract(data, '$.type') = 'Create'
                                                            AND (EXISTS (SELECT 1 FROM json_each(data, '$.to') WHERE json_each.value = ?)
                                                              OR EXISTS (SELECT 1 FROM json_each(data, '$.cc') WHERE json_each.value = ?))
                                                            ORDER BY created_at DESC
                                                            LIMIT ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	createdAt := activity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Data,
			activity.ActorURI,
			createdAt.Format("2006-01-02 15:04:05"),
			createdAt.Format("2006-01-02 15:04:05"),
		)
		return err
	})
}

func (db *DB) ReadActivityById(id int64) (error, *domain.Activity) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityById, id))
}

// ReadActivityByActivityURI reads an activity by its embedded data.id.
func (db *DB) ReadActivityByActivityURI(uri string) (error, *domain.Activity) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByActivityURI, uri))
}

// ReadActivityByObjectURI reads the Create activity wrapping the object
// with the given id.
func (db *DB) ReadActivityByObjectURI(objectURI string) (error, *domain.Activity) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivityByObjectURI, objectURI))
}

// ReadRepliesByObjectURI returns the stored Create activities whose object
// replies to the given object id, oldest first.
func (db *DB) ReadRepliesByObjectURI(objectURI string) (error, *[]domain.Activity) {
	return db.queryActivities(sqlSelectRepliesByObjectURI, objectURI)
}

// CountReactionsByObjectURI counts activities of the given type whose
// object field is the plain object URI (Like and Announce reactions).
func (db *DB) CountReactionsByObjectURI(activityType string, objectURI string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountReactionsByObjectURI, activityType, objectURI).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// DeleteActivityByActivityURI drops an activity by its embedded data.id.
func (db *DB) DeleteActivityByActivityURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivityByActivityURI, uri)
		return err
	})
}

func (db *DB) DeleteActivityByObjectURI(objectURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivityByObjectURI, objectURI)
		return err
	})
}

// ReadOutboxActivities returns the actor's public activities, newest first.
func (db *DB) ReadOutboxActivities(actorURI string, limit int, offset int) (error, *[]domain.Activity) {
	return db.queryActivities(sqlSelectOutboxActivities, actorURI, domain.PublicAddress, domain.PublicAddress, limit, offset)
}

func (db *DB) CountOutboxActivities(actorURI string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountOutboxActivities, actorURI, domain.PublicAddress, domain.PublicAddress).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// ReadPublicNotesByActor returns the actor's public Create activities,
// newest first (feed rendering).
func (db *DB) ReadPublicNotesByActor(actorURI string, limit int) (error, *[]domain.Activity) {
	return db.queryActivities(sqlSelectPublicNotesByActor, actorURI, domain.PublicAddress, domain.PublicAddress, limit)
}

func (db *DB) queryActivities(query string, args ...any) (error, *[]domain.Activity) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		var createdAtStr, modifiedAtStr string
		if err := rows.Scan(&activity.Id, &activity.Data, &activity.ActorURI, &createdAtStr, &modifiedAtStr); err != nil {
			return err, &activities
		}

		if parsedTime, err := parseTimestamp(createdAtStr); err == nil {
			activity.CreatedAt = parsedTime
		}
		if parsedTime, err := parseTimestamp(modifiedAtStr); err == nil {
			activity.ModifiedAt = parsedTime
		}

		activities = append(activities, activity)
	}
	if err = rows.Err(); err != nil {
		return err, &activities
	}

	return nil, &activities
}

func (db *DB) scanActivity(row *sql.Row) (error, *domain.Activity) {
	var activity domain.Activity
	var createdAtStr, modifiedAtStr string

	err := row.Scan(&activity.Id, &activity.Data, &activity.ActorURI, &createdAtStr, &modifiedAtStr)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}

	if parsedTime, err := parseTimestamp(createdAtStr); err == nil {
		activity.CreatedAt = parsedTime
	}
	if parsedTime, err := parseTimestamp(modifiedAtStr); err == nil {
		activity.ModifiedAt = parsedTime
	}

	return nil, &activity
}

// Delivery queue
const (
	sqlInsertDeliveryQueueItem = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, key_id, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	// created_at has one-second resolution; rowid breaks ties in insertion
	// order so per-inbox dispatch order holds within a second.
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, key_id, attempts, next_retry_at, created_at FROM delivery_queue
                                                            WHERE next_retry_at <= ?
                                                            ORDER BY created_at ASC, rowid ASC
                                                            LIMIT ?`
	sqlUpdateDeliveryAttempt    = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDeliveryQueueItem  = `DELETE FROM delivery_queue WHERE id = ?`
	sqlCountPendingDeliveries   = `SELECT COUNT(*) FROM delivery_queue`
)

func (db *DB) CreateDeliveryQueueItem(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueueItem,
			item.Id.String(),
			item.InboxURI,
			item.ActivityJSON,
			item.KeyId,
			item.Attempts,
			item.NextRetryAt.Format("2006-01-02 15:04:05"),
			item.CreatedAt.Format("2006-01-02 15:04:05"),
		)
		return err
	})
}

// ReadPendingDeliveries returns queue items due at or before now, oldest
// first, so per-inbox submission order is preserved.
func (db *DB) ReadPendingDeliveries(now time.Time, limit int) (error, []domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, now.Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, nextRetryAtStr, createdAtStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityJSON, &item.KeyId, &item.Attempts, &nextRetryAtStr, &createdAtStr); err != nil {
			return err, nil
		}

		item.Id, _ = uuid.Parse(idStr)
		if parsedTime, err := parseTimestamp(nextRetryAtStr); err == nil {
			item.NextRetryAt = parsedTime
		}
		if parsedTime, err := parseTimestamp(createdAtStr); err == nil {
			item.CreatedAt = parsedTime
		}

		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, nil
	}
	return nil, items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetryAt.Format("2006-01-02 15:04:05"), id.String())
		return err
	})
}

func (db *DB) DeleteDeliveryQueueItem(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDeliveryQueueItem, id.String())
		return err
	})
}

func (db *DB) CountPendingDeliveries() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPendingDeliveries).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// NodeInfo counts

func (db *DB) CountLocalActors() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalActors).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

func (db *DB) CountLocalPosts() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalPosts).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

func (db *DB) CountActiveActorsMonth() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountActiveMonth).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

func (db *DB) CountActiveActorsHalfYear() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountActiveHalfYear).Scan(&count)
	if err != nil {
		return err, 0
	}
	return nil, count
}

// Init opens the database at the given path, tunes the connection pool and
// runs the schema migrations. Call it once at startup; GetDB returns the
// same instance afterwards. Errors here are fatal for the process.
func Init(dbPath string) error {
	var initErr error
	dbOnce.Do(func() {
		dbInstance, initErr = open(dbPath)
	})
	if initErr != nil {
		return initErr
	}
	if dbInstance == nil {
		return fmt.Errorf("database was not initialized")
	}
	return nil
}

// GetDB returns the database singleton, opening it at the default path when
// Init was not called first.
func GetDB() *DB {
	dbOnce.Do(func() {
		var err error
		dbInstance, err = open(util.ResolveFilePath(util.Name + ".db"))
		if err != nil {
			panic(err)
		}
	})

	return dbInstance
}

func open(dbPath string) (*DB, error) {
	log.Printf("Using database at: %s", dbPath)

	// Open database connection
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = db.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		// WAL2 not supported, try regular WAL
		err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	// Optimize PRAGMAs for concurrent federation workload
	// These need to be set as connection defaults
	db.Exec("PRAGMA synchronous = NORMAL")      // Reduces fsync calls
	db.Exec("PRAGMA cache_size = -64000")       // 64MB cache per connection
	db.Exec("PRAGMA temp_store = MEMORY")       // Store temp tables in RAM
	db.Exec("PRAGMA busy_timeout = 5000")       // Wait up to 5s for locks
	db.Exec("PRAGMA foreign_keys = ON")         // Enable FK constraints
	db.Exec("PRAGMA auto_vacuum = INCREMENTAL") // Better performance than FULL

	log.Printf("Database initialized with connection pooling (max 25 connections)")

	instance := &DB{db: db}

	// Run initial schema setup
	if err := instance.CreateDB(); err != nil {
		return nil, err
	}
	if err := instance.RunMigrations(); err != nil {
		return nil, err
	}

	return instance, nil
}

// CreateDB creates the database.
func (db *DB) CreateDB() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.createActorsTable(tx)
	})
}

func (db *DB) createActorsTable(tx *sql.Tx) error {
	_, err := tx.Exec(sqlCreateActorsTable)
	return err
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// parseTimestamp parses a timestamp string from SQLite, handling both ISO 8601 and space-separated formats
// SQLite driver returns timestamps with Z suffix even though they're stored in local time
func parseTimestamp(timestampStr string) (time.Time, error) {
	if timestampStr == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	// Remove Z suffix and convert T to space for ISO 8601 format
	if strings.HasSuffix(timestampStr, "Z") {
		timestampStr = strings.TrimSuffix(timestampStr, "Z")
		timestampStr = strings.Replace(timestampStr, "T", " ", 1)
	}

	return time.ParseInLocation("2006-01-02 15:04:05", timestampStr, time.Local)
}
