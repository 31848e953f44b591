package db

import (
	"database/sql"
	"log"
)

// SQL for federation tables
const (
	// Activities table. The raw JSON document is the source of truth;
	// lookups go through expression indices on extracted fields.
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		modified_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// The unique index on data.id is what makes re-delivered activities
	// idempotent at the storage layer.
	sqlCreateActivitiesIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_activities_activity_uri ON activities(json_extract(data, '$.id'));
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(json_extract(data, '$.object.id'));
		CREATE INDEX IF NOT EXISTS idx_activities_in_reply_to ON activities(json_extract(data, '$.object.inReplyTo'));
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(json_extract(data, '$.type'));
		CREATE INDEX IF NOT EXISTS idx_activities_actor_uri ON activities(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	// Delivery queue table
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		key_id TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_inbox ON delivery_queue(inbox_uri);
	`

	// Local usernames are unique per instance; remote actors may reuse a
	// preferred_username across domains so the index is partial.
	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_username ON actors(preferred_username) WHERE local = 1;
		CREATE INDEX IF NOT EXISTS idx_actors_local ON actors(local);
		CREATE INDEX IF NOT EXISTS idx_actors_username ON actors(preferred_username);
	`
)

func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		// Create new tables
		if err := db.createTableIfNotExists(tx, sqlCreateActivitiesTable, "activities"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateDeliveryQueueTable, "delivery_queue"); err != nil {
			return err
		}

		// Create indices
		if _, err := tx.Exec(sqlCreateActivitiesIndices); err != nil {
			log.Printf("Warning: Failed to create activities indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateDeliveryQueueIndices); err != nil {
			log.Printf("Warning: Failed to create delivery_queue indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateActorsIndices); err != nil {
			log.Printf("Warning: Failed to create actors indices: %v", err)
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}
