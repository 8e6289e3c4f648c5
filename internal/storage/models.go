package storage

import "time"

type appDataRow struct {
	ID      string    `db:"id"`
	Created time.Time `db:"created"`
	Updated time.Time `db:"updated"`
}

type lockRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
	Key  string `db:"key"`
}

type keyRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Created    time.Time `db:"created"`
	Permission string    `db:"permission"` // JSON-encoded lock.Permission
}

type pendingKeyRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Created    time.Time `db:"created"`
	Expiration time.Time `db:"expiration"`
	Permission string    `db:"permission"`
}

type eventRow struct {
	ID     string    `db:"id"`
	Date   time.Time `db:"date"`
	Type   string    `db:"type"`
	Key    string    `db:"key"`
	NewKey *string   `db:"new_key"`
}

type secretRow struct {
	ID     string `db:"id"`
	Secret []byte `db:"secret"`
}
