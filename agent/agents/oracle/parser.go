package oracle

import (
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

const finalAnswerMarker = "Final Answer:"

var (
	actionWithInput = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnly      = regexp.MustCompile(`Action\s*\d*\s*:`)
)

// ParseReAct reads one completion of the ReAct text protocol. Text that
// follows neither the action nor the final-answer form is treated as the
// final answer itself.
func ParseReAct(text string) (contractx.OracleAction, error) {
	hasFinal := strings.Contains(text, finalAnswerMarker)

	if loc := actionWithInput.FindStringSubmatchIndex(text); loc != nil {
		if hasFinal {
			return contractx.OracleAction{}, fmt.Errorf("%w: found both a final answer and an action", contractx.ErrOracleOutput)
		}
		tool := strings.TrimSpace(text[loc[2]:loc[3]])
		input := text[loc[4]:loc[5]]
		if i := strings.Index(input, "\nObservation"); i >= 0 {
			input = input[:i]
		}
		input = strings.Trim(strings.TrimSpace(input), `"`)
		if tool == "" {
			return contractx.OracleAction{}, fmt.Errorf("%w: action names no tool", contractx.ErrOracleOutput)
		}

		action := contractx.Invoke(tool, input)
		action.Thought = strings.TrimSpace(text[:loc[0]])
		action.Log = strings.TrimRight(text, " \n")
		return action, nil
	}

	if hasFinal {
		i := strings.LastIndex(text, finalAnswerMarker)
		action := contractx.Finish(trimCodeFence(text[i+len(finalAnswerMarker):]))
		action.Thought = strings.TrimSpace(text[:i])
		action.Log = text
		return action, nil
	}

	if actionOnly.MatchString(text) {
		return contractx.OracleAction{}, fmt.Errorf("%w: action is missing its input", contractx.ErrOracleOutput)
	}

	action := contractx.Finish(trimCodeFence(text))
	action.Log = text
	return action, nil
}

// trimCodeFence strips a surrounding markdown code fence, if any.
func trimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
