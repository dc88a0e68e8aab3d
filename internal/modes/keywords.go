package modes

// Fixed phrase sets for the turn-off confirmation dialog. Matching is
// case-insensitive substring membership; first match in list order wins.
// The lists cover the two languages the product ships in and are not
// user-configurable at runtime.

var turnOffPhrases = []string{
	"turn off", "stop mode", "remove mode", "disable mode", "exit mode",
	"normal mode", "regular chat", "band karo", "mode hatao", "mode band",
	"turn this mode off", "disable the billionaire", "go back to normal",
	"stop the game", "stop game mode",
}

var affirmativeTokens = []string{"yes", "haan", "ok"}

var negativeTokens = []string{"no", "nahi", "cancel"}
