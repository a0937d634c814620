// Package telegram connects the bot to the Telegram Bot API.
//
// The Adapter long-polls updates through github.com/go-telegram/bot, turns
// messages and callback queries into bot.Inbound values and renders replies
// as messages with a one-button-per-row inline keyboard.
package telegram
