package command

// HelpText lists every command the dispatcher understands.
const HelpText = `Available commands:
• get cat fact - Get a random cat fact
• get chuck joke - Get a Chuck Norris joke
• search chuck [term] - Search Chuck Norris jokes
• get activity - Get a random activity suggestion
• search github [username] - Search GitHub users
• get weather [city] - Get weather for a city
• define [word] - Get word definition
• get my preferences - Get user preferences
• save search [query] - Save a search query
• get search history - Get search history
• clear search history - Clear search history
• clear - Clear chat history
• help - Show this help message`
