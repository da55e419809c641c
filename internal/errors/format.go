package errors

import (
	"errors"
	"strings"
)

// FormatForCLI renders err for terminal users: the message, the
// actionable hint when the error carries one, then the code for bug
// reports. Errors without a code print as a bare Error line; wrapping
// them in ERR_INTERNAL clothing would only obscure flag typos and
// other cobra-level failures.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Error: ")

	var re *RagError
	if !errors.As(err, &re) {
		sb.WriteString(err.Error())
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(re.Message)
	sb.WriteString("\n")
	if re.Suggestion != "" {
		sb.WriteString("  Hint: ")
		sb.WriteString(re.Suggestion)
		sb.WriteString("\n")
	}
	sb.WriteString("  Code: ")
	sb.WriteString(re.Code)
	sb.WriteString("\n")
	return sb.String()
}
