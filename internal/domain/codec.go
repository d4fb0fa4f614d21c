package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// questionEnvelope is the storage/cache form of a Question. The kind field
// discriminates the payload variant so the sum type survives a round trip
// through JSONB columns and redis values.
type questionEnvelope struct {
	UID            string          `json:"uid"`
	Text           string          `json:"text"`
	TimeLimitMS    int64           `json:"timeLimitMs,omitempty"`
	Kind           string          `json:"kind"`
	MultipleChoice *MultipleChoice `json:"multipleChoice,omitempty"`
	Numeric        *Numeric        `json:"numeric,omitempty"`
}

const (
	kindMultipleChoice = "multipleChoice"
	kindNumeric        = "numeric"
)

// MarshalJSON encodes the question with a kind discriminator.
func (q Question) MarshalJSON() ([]byte, error) {
	env := questionEnvelope{
		UID:         q.UID,
		Text:        q.Text,
		TimeLimitMS: q.TimeLimit.Milliseconds(),
	}
	switch p := q.Payload.(type) {
	case MultipleChoice:
		env.Kind = kindMultipleChoice
		env.MultipleChoice = &p
	case Numeric:
		env.Kind = kindNumeric
		env.Numeric = &p
	default:
		return nil, fmt.Errorf("marshal question %s: unknown payload %T", q.UID, q.Payload)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope form produced by MarshalJSON.
func (q *Question) UnmarshalJSON(data []byte) error {
	var env questionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	q.UID = env.UID
	q.Text = env.Text
	q.TimeLimit = time.Duration(env.TimeLimitMS) * time.Millisecond
	switch env.Kind {
	case kindMultipleChoice:
		if env.MultipleChoice == nil {
			return fmt.Errorf("unmarshal question %s: missing multipleChoice payload", env.UID)
		}
		q.Payload = *env.MultipleChoice
	case kindNumeric:
		if env.Numeric == nil {
			return fmt.Errorf("unmarshal question %s: missing numeric payload", env.UID)
		}
		q.Payload = *env.Numeric
	default:
		return fmt.Errorf("unmarshal question %s: unknown kind %q", env.UID, env.Kind)
	}
	return nil
}
