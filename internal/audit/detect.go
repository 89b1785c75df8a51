package audit

import "strings"

// signature pairs a tool name with a lowercase user-agent fragment.
// Matching walks the table in order and the first hit wins, so more
// specific signatures sit above generic ones (Cursor before VS Code,
// agents before the editors that embed them).
type signature struct {
	name    string
	pattern string
}

var aiToolSignatures = []signature{
	{"Claude Code", "claude-code"},
	{"Claude Desktop", "claude-desktop"},
	{"Cursor", "cursor"},
	{"Windsurf", "windsurf"},
	{"Cline", "cline"},
	{"Aider", "aider"},
	{"GitHub Copilot", "copilot"},
	{"Zed", "zed"},
	{"Continue", "continue-dev"},
	{"OpenAI Codex", "codex"},
	{"Gemini CLI", "gemini-cli"},
	{"mcp-client", "mcp"},
	{"VS Code", "vscode"},
	{"VS Code", "visual studio code"},
	{"JetBrains IDE", "jetbrains"},
	{"JetBrains IDE", "intellij"},
	{"Neovim", "neovim"},
	{"Emacs", "emacs"},
}

// DetectAITool matches a user agent against the known AI-assistant and
// IDE signatures. Returns the tool name and whether anything matched.
func DetectAITool(userAgent string) (string, bool) {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return "", false
	}
	for _, sig := range aiToolSignatures {
		if strings.Contains(ua, sig.pattern) {
			return sig.name, true
		}
	}
	return "", false
}
