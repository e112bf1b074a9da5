package bot

import (
	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

var commandsUser = []tgbotapi.BotCommand{
	{Command: "start", Description: "Get your invite links"},
	{Command: "links", Description: "Show your invite links"},
	{Command: "refresh", Description: "Replace your links with new ones"},
	{Command: "history", Description: "Show your link history"},
	{Command: "help", Description: "Show available commands"},
}

// commandsAdmin starts with commandsUser
var commandsAdmin = append(append([]tgbotapi.BotCommand{}, commandsUser...), []tgbotapi.BotCommand{
	{Command: "channels", Description: "List channels"},
	{Command: "addchannel", Description: "Register a channel by chat id"},
	{Command: "removechannel", Description: "Deactivate a channel"},
	{Command: "ban", Description: "Ban a user"},
	{Command: "unban", Description: "Unban a user"},
	{Command: "settings", Description: "Show or change settings"},
	{Command: "stats", Description: "Show statistics"},
	{Command: "cleanup", Description: "Run maintenance now"},
	{Command: "emergency", Description: "Deactivate every link"},
	{Command: "bulk", Description: "Generate links for all users"},
	{Command: "abort", Description: "Abort the bulk job"},
	{Command: "regenerate", Description: "Replace all links"},
}...)

func (t *TgBot) setDefaultCommands() {
	_, err := t.api.SetMyCommands(commandsUser, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeDefault{},
	})
	if err != nil {
		t.log.Warn("setting default commands", "error", err)
	}
}

// setAdminCommands gives each configured admin the extended menu
func (t *TgBot) setAdminCommands() {
	for _, id := range t.adminIds {
		_, err := t.api.SetMyCommands(commandsAdmin, &tgbotapi.SetMyCommandsOpts{
			Scope: tgbotapi.BotCommandScopeChat{ChatId: id},
		})
		if err != nil {
			t.log.Warn("setting admin commands", "chat_id", id, "error", err)
		}
	}
}
