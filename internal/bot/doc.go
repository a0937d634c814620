// Package bot is the conversational engine of taskbot.
//
// Transports hand inbound updates to a Pool, which classifies them into
// TextEvent or CallbackEvent values, drops repeated deliveries and queues
// them per conversation. The Engine handles one event at a time per
// conversation: slash commands first, then free text routed by the
// conversation's Phase, or button tokens matched against the callback
// table. Replies go out through a MessageGateway.
//
// Conversation state lives in memory. Only the login binding is persisted
// and it is restored the first time a conversation is seen after a restart.
package bot
