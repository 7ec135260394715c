package questionbank

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mnrworld/exam-backend/internal/model"
)

// flexString decodes a JSON string, number or boolean into its text form.
// null decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("expected scalar, got %s", b[:1])
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return strings.TrimSpace(string(f)) }

// RawQuestion is a question record exactly as the question bank serves it.
// Field aliases from the different endpoints are all accepted here and
// resolved by Normalize.
type RawQuestion struct {
	ID           flexString      `json:"id"`
	UID          flexString      `json:"uid"`
	FileID       flexString      `json:"file_id"`
	Question     flexString      `json:"question"`
	QuestionText flexString      `json:"question_text"`
	Options      json.RawMessage `json:"options"`
	Option1      flexString      `json:"option1"`
	Option2      flexString      `json:"option2"`
	Option3      flexString      `json:"option3"`
	Option4      flexString      `json:"option4"`
	Option5      flexString      `json:"option5"`
	Answer       flexString      `json:"answer"`
	Correct      flexString      `json:"correct"`
	Explanation  flexString      `json:"explanation"`
	Type         flexString      `json:"type"`
	Section      flexString      `json:"section"`
	OrderIndex   flexString      `json:"order_index"`
}

// Exclusion records a question that was dropped during normalization.
type Exclusion struct {
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// LoadResult is a normalized question set plus what was left out of it.
type LoadResult struct {
	Questions []model.Question `json:"questions"`
	Excluded  []Exclusion      `json:"excluded,omitempty"`
}

func malformed(id, reason string) error {
	if id == "" {
		id = "<no id>"
	}
	return fmt.Errorf("%w: question %s: %s", ErrMalformedQuestion, id, reason)
}

// Normalize maps one raw record onto the canonical Question. Every record
// that leaves this function satisfies 0 <= CorrectIndex < len(Options).
func Normalize(raw RawQuestion) (model.Question, error) {
	id := raw.ID.String()
	if id == "" {
		id = raw.UID.String()
	}
	if id == "" {
		return model.Question{}, malformed("", "missing id")
	}

	body := raw.Question.String()
	if body == "" {
		body = raw.QuestionText.String()
	}
	text, images := ExtractContent(body)
	if text == "" && len(images) == 0 {
		return model.Question{}, malformed(id, "missing question text")
	}

	options, err := decodeOptions(raw)
	if err != nil {
		return model.Question{}, malformed(id, err.Error())
	}
	if len(options) == 0 {
		return model.Question{}, malformed(id, "no options")
	}

	key := raw.Answer.String()
	if key == "" {
		key = raw.Correct.String()
	}
	correct, err := parseAnswerKey(key, len(options))
	if err != nil {
		return model.Question{}, malformed(id, err.Error())
	}

	return model.Question{
		ID:           id,
		Text:         text,
		Images:       images,
		Options:      options,
		CorrectIndex: correct,
		Explanation:  raw.Explanation.String(),
		Type:         raw.Type.String(),
		Section:      raw.Section.String(),
	}, nil
}

// NormalizeRecords decodes and normalizes each record on its own. Records
// that do not decode, fail normalization or repeat an id are excluded; the
// rest of the set survives. It returns ErrNoQuestions, along with the
// exclusions, when nothing is left.
func NormalizeRecords(records []json.RawMessage) (*LoadResult, error) {
	c := newCollector(len(records))
	for _, rec := range records {
		var raw RawQuestion
		if err := json.Unmarshal(rec, &raw); err != nil {
			id := recordID(rec)
			c.exclude(id, malformed(id, "undecodable record: "+err.Error()))
			continue
		}
		c.add(raw)
	}
	return c.result()
}

type collector struct {
	res  *LoadResult
	seen map[string]struct{}
}

func newCollector(n int) *collector {
	return &collector{
		res:  &LoadResult{Questions: make([]model.Question, 0, n)},
		seen: make(map[string]struct{}, n),
	}
}

func (c *collector) add(raw RawQuestion) {
	q, err := Normalize(raw)
	if err != nil {
		id := raw.ID.String()
		if id == "" {
			id = raw.UID.String()
		}
		c.exclude(id, err)
		return
	}
	if _, dup := c.seen[q.ID]; dup {
		c.exclude(q.ID, malformed(q.ID, "duplicate id"))
		return
	}
	c.seen[q.ID] = struct{}{}
	c.res.Questions = append(c.res.Questions, q)
}

func (c *collector) exclude(id string, err error) {
	c.res.Excluded = append(c.res.Excluded, Exclusion{QuestionID: id, Reason: err.Error(), Err: err})
}

func (c *collector) result() (*LoadResult, error) {
	if len(c.res.Questions) == 0 {
		return c.res, ErrNoQuestions
	}
	return c.res, nil
}

// recordID digs the id out of a record that failed to decode, for logging.
func recordID(rec json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"id", "uid"} {
		var v flexString
		if raw, ok := fields[key]; ok && json.Unmarshal(raw, &v) == nil && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// decodeOptions prefers an explicit options list (array, or object in key
// order) and otherwise collects the option1..option5 fields. Blank entries
// are dropped everywhere, so a list of blanks counts as no list.
func decodeOptions(raw RawQuestion) ([]string, error) {
	explicit, err := decodeOptionList(raw.Options)
	if err != nil {
		return nil, err
	}
	if len(explicit) > 0 {
		return explicit, nil
	}

	var options []string
	for _, o := range []flexString{raw.Option1, raw.Option2, raw.Option3, raw.Option4, raw.Option5} {
		if s := o.String(); s != "" {
			options = append(options, s)
		}
	}
	return options, nil
}

func decodeOptionList(data json.RawMessage) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("invalid options list: %w", err)
		}
		var out []string
		for _, it := range items {
			if s := it.String(); s != "" {
				out = append(out, s)
			}
		}
		return out, nil

	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("invalid options object: %w", err)
		}
		var out []string
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("invalid options object: %w", err)
			}
			var v flexString
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("invalid options object: %w", err)
			}
			if s := v.String(); s != "" {
				out = append(out, s)
			}
		}
		return out, nil

	default:
		return nil, errors.New("options must be a list or an object")
	}
}

// parseAnswerKey accepts a 1-based number ("2") or a letter ("b", "B").
func parseAnswerKey(key string, optionCount int) (int, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, errors.New("missing answer key")
	}

	var idx int
	if digits := leadingDigits(key); digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, fmt.Errorf("unparseable answer key %q", key)
		}
		idx = n - 1
	} else {
		c := strings.ToUpper(key)[0]
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("unparseable answer key %q", key)
		}
		idx = int(c - 'A')
	}

	if idx < 0 || idx >= optionCount {
		return 0, fmt.Errorf("answer key %q out of range for %d options", key, optionCount)
	}
	return idx, nil
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
