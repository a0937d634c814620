// Package matrix connects the bot to Matrix rooms through mautrix.
//
// Matrix has no inline buttons, so a reply's buttons are appended as a
// numbered list and the room remembers them until the next reply. Typing a
// listed number is delivered to the bot as that button's callback token.
// Encryption is optional and uses the mautrix crypto helper with a SQLite
// store under the configured crypto directory.
package matrix
