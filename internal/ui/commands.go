package ui

import "strings"

type command struct {
	name string
	arg  string
}

// parseCommand recognises slash commands. Anything else is a chat message.
func parseCommand(input string) (command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(input, " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

const helpText = `Here are some commands you can use:
- /help: Display this help message
- /bye: Exit the application (also /quit, /exit)
- /debug: Toggle the debug console
- /models: Select the model
- /stop: Stop the running answer (or press Esc)
- /reset: Start a new conversation
- /save <file>: Save the conversation as .json or .yaml
- /load <file>: Restore a saved conversation

`
