// Package approle stores the internal role that every application owns.
//
// Store renames the role when its application is renamed and deletes it with
// the application. Both are idempotent. WithTx binds the store to the
// application write transaction so a rolled back update also reverts the
// rename.
package approle
