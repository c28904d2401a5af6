package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/react_system.txt
	reactSystemRaw string

	//go:embed template/react_user.txt
	reactUserRaw string
)

// PromptSet holds the ReAct templates, written in Go template syntax.
type PromptSet struct {
	System string
	User   string
}

// LoadPromptSet returns the embedded ReAct templates.
func LoadPromptSet() PromptSet {
	return PromptSet{
		System: strings.TrimSpace(reactSystemRaw),
		User:   strings.TrimRight(reactUserRaw, "\n"),
	}
}
