package domain

import (
	"errors"
	"time"
)

// ErrInvalidCredential marks a bearer credential that could not be resolved
// to an identity.
var ErrInvalidCredential = errors.New("invalid credential")

// OptionLabel identifies one answer option of a Question.
type OptionLabel string

const (
	LabelA OptionLabel = "A"
	LabelB OptionLabel = "B"
)

func (l OptionLabel) Valid() bool {
	return l == LabelA || l == LabelB
}

// Question is one generated multiple-choice question. The JSON keys are the
// contract shared with clients and with the model output.
type Question struct {
	Prompt  string      `json:"Frage" dynamodbav:"Frage"`
	OptionA string      `json:"A" dynamodbav:"A"`
	OptionB string      `json:"B" dynamodbav:"B"`
	Correct OptionLabel `json:"Korrekt" dynamodbav:"Korrekt"`
}

// HistoryEntry is a single persisted generation result.
type HistoryEntry struct {
	ID         string
	Owner      string
	Timestamp  time.Time
	SourceName string
	Questions  []Question
}
