// Package store provides persistent storage for taskbot using SQLite.
//
// # Architecture
//
// The store package exposes narrow interfaces per concern:
//
//   - UserStore: users, teams and chat conversation bindings
//   - TaskStore: tasks, assignees and field updates
//   - CommentStore: task comments
//   - SprintStore: team sprints
//   - EventStore: the bot event ledger
//
// Store combines them. SQLiteStore implements all interfaces in a single
// struct and MockStore is its in-memory twin for tests.
//
// # Conversation Bindings
//
// A chat conversation ("telegram:123", "matrix:!room:server") is bound to at
// most one user and a user to at most one conversation. BindConversation
// releases the conversation from its previous holder in the same
// transaction, so a restarted bot can restore logins from the database.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Dates on tasks and sprints are stored as YYYY-MM-DD strings, timestamps
// as RFC3339.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateEmail: a user with that email already exists
//
// # Testing
//
//	s := store.NewMockStore()
//	s.FailOn("GetTask", errors.New("boom")) // inject failures
//	s.Calls("GetSprint")                    // count calls
package store
