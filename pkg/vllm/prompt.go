package vllm

import "fmt"

// The token-probability prompt constrains the model to a bare Yes/No answer so
// the first generated token carries the whole decision.
const yesNoParsingRule = "You must only return a Yes or No, and not both, to any question asked. " +
	"You must not include any other symbols, information, text, justification in your answer or repeat Yes or No multiple times.\n" +
	"For example, if the question is 'Is there a cat present in the Image?', the answer must only be 'Yes' or 'No'."

const scaleParsingRule = "You must return a single float confidence value in a scale 0 to 10. " +
	"For example: 0.1,1.4,2.6,3.7,4.2,5.4,6.2,7.7,8.7,9.8,10.0. " +
	"Do not add any chatter. " +
	"Do not say that I cannot determine. Do your best."

func yesNoPrompt(description string) string {
	return fmt.Sprintf("Is there a %s present in the image? [PARSING RULE]\n:%s", description, yesNoParsingRule)
}

func scalePrompt(description string) string {
	return fmt.Sprintf("How confidently can you say that the image describes %s? [PARSING RULE]\n:%s", description, scaleParsingRule)
}
