package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"quiz-backend/internal/domain"
)

func buildQuestionInstruction() string {
	return strings.Join([]string{
		"Task:",
		"Create multiple-choice questions based on the content of the attached PDF document.",
		"",
		"Rules:",
		questionRules(),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func questionRules() string {
	return strings.Join([]string{
		"1) Use only facts stated in the document.",
		"2) Write the questions in the language of the document.",
		"3) Every question has exactly two options, A and B, and exactly one of them is correct.",
		"4) Keep both options similar in length and style.",
	}, "\n")
}

func outputContract() string {
	return "Respond with a valid JSON array only. Each element is an object with the keys " +
		"Frage (question text), A (first option), B (second option) and Korrekt (\"A\" or \"B\")."
}

// questionSchema is the structured-output shape requested from the model.
func questionSchema() domain.OutputSchema {
	return domain.OutputSchema{
		Name: "quiz_questions",
		Schema: json.RawMessage(`{
			"type":"array",
			"items":{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"Frage":{"type":"string"},
					"A":{"type":"string"},
					"B":{"type":"string"},
					"Korrekt":{"type":"string","enum":["A","B"]}
				},
				"required":["Frage","A","B","Korrekt"]
			}
		}`),
	}
}

var questionKeys = []string{"Frage", "A", "B", "Korrekt"}

// parseQuestions decodes model output strictly. Malformed output is an error;
// no repair is attempted. Keys are matched case-sensitively.
func parseQuestions(raw string) ([]domain.Question, error) {
	var items []map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("usecase: decode questions: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("usecase: decode questions: multiple JSON values")
		}
		return nil, fmt.Errorf("usecase: decode questions trailing data: %w", err)
	}
	if items == nil {
		return nil, errors.New("usecase: decode questions: expected a JSON array")
	}

	out := make([]domain.Question, 0, len(items))
	for i, item := range items {
		if len(item) != len(questionKeys) {
			return nil, fmt.Errorf("usecase: question %d: expected keys %v", i, questionKeys)
		}
		var fields [4]string
		for k, key := range questionKeys {
			v, ok := item[key]
			if !ok {
				return nil, fmt.Errorf("usecase: question %d: missing key %q", i, key)
			}
			if err := json.Unmarshal(v, &fields[k]); err != nil || string(v) == "null" {
				return nil, fmt.Errorf("usecase: question %d: %q must be a string", i, key)
			}
		}
		q := domain.Question{
			Prompt:  fields[0],
			OptionA: fields[1],
			OptionB: fields[2],
			Correct: domain.OptionLabel(fields[3]),
		}
		if !q.Correct.Valid() {
			return nil, fmt.Errorf("usecase: question %d: invalid correct option %q", i, q.Correct)
		}
		out = append(out, q)
	}
	return out, nil
}
