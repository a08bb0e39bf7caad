// Package prompts builds the prompt strings sent to the model.
package prompts

import (
	"fmt"
	"strings"

	"github.com/dchstudio/exiquiz/internal/model"
)

// Question builds the prompt for generating one question about an image
// description at the given difficulty.
func Question(description string, difficulty model.Difficulty) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a concise, direct question about the content at the %s level, ", difficulty)
	fmt.Fprintf(&sb, "based on the following image description: %s. ", description)
	sb.WriteString("The question must be clearly different from previous questions. ")
	sb.WriteString("The output should contain only the question sentence - without any additional preambles or explanations. ")
	sb.WriteString("Please generate a new formulation if the question is identical to a previous one. ")
	sb.WriteString("The file name should not be part of the question!")
	return sb.String()
}

// Grade builds the rubric-grading prompt. The model is asked to score four
// fixed categories from 1 to 10 each and return a single JSON object; the
// schema goes last so it is the final thing the model sees.
func Grade(question, answer, description string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rate the following answer to the question: '%s'.\n", question)
	fmt.Fprintf(&sb, "Answer: '%s'\n", answer)
	fmt.Fprintf(&sb, "Context for the question (image description): '%s'.\n\n", description)

	sb.WriteString("You must assign points from 1 to 10 for each of these four categories, based only on the supplied answer:\n")
	sb.WriteString("1. Accuracy of content - is the statement technically correct?\n")
	sb.WriteString("2. Quality of argumentation - is the explanation logical and comprehensible?\n")
	sb.WriteString("3. Contextual reference - does the answer explicitly refer to the context of the question?\n")
	sb.WriteString("4. Originality - does the answer contain your own wording or ideas?\n\n")

	sb.WriteString("Assign points for each category from 1 to 10 and return the rating in the following JSON format:\n")
	sb.WriteString(`{
    "Accuracy of content": {"points": <Points>, "justification": "<Justification>"},
    "Quality of argumentation": {"points": <Points>, "justification": "<Justification>"},
    "Contextual reference": {"points": <Points>, "justification": "<Justification>"},
    "Originality": {"points": <Points>, "justification": "<Justification>"},
    "Total score": <Total points>
}`)
	sb.WriteString("\n\nMake sure that the total score is the sum of the four categories.\n")
	sb.WriteString("No meta answers or explanations outside of this format.")
	return sb.String()
}
