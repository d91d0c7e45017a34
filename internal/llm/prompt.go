package llm

import (
	"strings"

	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

const chooseRulePolicy = `You are an AI assistant that helps people manage their emails.

<instructions>
  IMPORTANT: Follow these instructions carefully when selecting a rule:

  <priority>
  1. Match the email to a SPECIFIC user-defined rule that addresses the email's exact content or purpose.
  2. If the email doesn't match any specific rule but the user has a catch-all rule (like "emails that don't match other criteria"), use that catch-all rule.
  3. Only set "noMatchFound" to true if no user-defined rule can reasonably apply.
  </priority>

  <guidelines>
  - If a rule says to exclude certain types of emails, DO NOT select that rule for those excluded emails.
  - When multiple rules match, choose the more specific one that best matches the email's content.
  - Rules about requiring replies should be prioritized when the email clearly needs a response.
  </guidelines>
</instructions>`

const chooseRuleOutputFormat = `<outputFormat>
Respond with a JSON object with the following fields:
"reason" - the reason you chose that rule. Keep it concise.
"ruleName" - the exact name of the rule you want to apply
"noMatchFound" - true if no match was found, false otherwise
</outputFormat>`

// chooseRuleSchema is the result every choose-rule completion must satisfy.
var chooseRuleSchema = Schema{
	Name: "choose_rule",
	Properties: map[string]string{
		"reason":       "string",
		"ruleName":     "string",
		"noMatchFound": "boolean",
	},
	Required: []string{"reason", "ruleName"},
}

// buildChooseRuleSystem renders the priority policy, the candidate rules and the user profile.
func buildChooseRuleSystem(rules []model.Rule, user model.User) string {
	var b strings.Builder
	b.WriteString(chooseRulePolicy)
	b.WriteString("\n\n<user_rules>\n")
	for i, rule := range rules {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<rule>\n  <name>" + rule.Name + "</name>\n  <criteria>" + rule.Instructions + "</criteria>\n</rule>")
	}
	b.WriteString("\n</user_rules>\n\n<user_info>\n")
	if user.About != "" {
		b.WriteString("<about>" + user.About + "</about>\n")
	}
	b.WriteString("<email>" + user.Email + "</email>\n</user_info>\n\n")
	b.WriteString(chooseRuleOutputFormat)
	return b.String()
}

func buildChooseRulePrompt(emailSection string) string {
	return "Select a rule to apply to this email that was sent to me:\n\n<email>\n" + emailSection + "\n</email>"
}
