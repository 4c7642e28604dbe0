// Package plan coerces loosely shaped build plans (LLM output, stub
// templates, older stored documents) into one canonical shape.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type Overview struct {
	Title   *string `json:"title"`
	EstTime *string `json:"est_time"`
	EstCost *string `json:"est_cost"`
	Skill   *string `json:"skill"`
	Notes   *string `json:"notes"`
}

type Material struct {
	Name string `json:"name"`
	// Qty is a number, a free-form string such as "2 sheets", or nil.
	Qty   any     `json:"qty"`
	Notes *string `json:"notes"`
}

type Tool struct {
	Name  string  `json:"name"`
	Notes *string `json:"notes"`
}

type Cut struct {
	Item  string   `json:"item"`
	Size  *string  `json:"size"`
	Qty   *float64 `json:"qty"`
	Notes *string  `json:"notes"`
}

type Step struct {
	Order int     `json:"order"`
	Text  string  `json:"text"`
	Notes *string `json:"notes"`
}

type Plan struct {
	Overview  Overview   `json:"overview"`
	Materials []Material `json:"materials"`
	Tools     []Tool     `json:"tools"`
	Cuts      []Cut      `json:"cuts"`
	Steps     []Step     `json:"steps"`
}

var ErrNotObject = errors.New("plan must be a JSON object")

// Normalize accepts a decoded JSON document, raw JSON (bytes or string,
// optionally wrapped in a markdown code fence) or an already normalized
// plan. Normalize(Normalize(x)) equals Normalize(x).
func Normalize(raw any) (*Plan, error) {
	doc, err := toDocument(raw)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Overview:  normalizeOverview(doc),
		Materials: make([]Material, 0),
		Tools:     make([]Tool, 0),
		Cuts:      make([]Cut, 0),
		Steps:     make([]Step, 0),
	}

	for _, v := range asList(doc["materials"]) {
		m := asEntry(v, "name")
		name := firstText(m, "name", "item")
		if name == nil {
			continue
		}
		p.Materials = append(p.Materials, Material{
			Name:  *name,
			Qty:   firstQty(m, "qty", "quantity", "amount"),
			Notes: firstText(m, "notes"),
		})
	}

	for _, v := range asList(doc["tools"]) {
		m := asEntry(v, "name")
		name := firstText(m, "name", "tool")
		if name == nil {
			continue
		}
		p.Tools = append(p.Tools, Tool{Name: *name, Notes: firstText(m, "notes")})
	}

	for _, v := range asList(doc["cuts"]) {
		m := asEntry(v, "item")
		item := firstText(m, "item")
		if item == nil {
			continue
		}
		p.Cuts = append(p.Cuts, Cut{
			Item:  *item,
			Size:  firstText(m, "size", "dimensions"),
			Qty:   number(m["qty"]),
			Notes: firstText(m, "notes"),
		})
	}

	for i, v := range asList(doc["steps"]) {
		m := asEntry(v, "text")
		text := firstText(m, "text", "step")
		if text == nil {
			continue
		}
		order, ok := integer(m["order"])
		if !ok {
			order = i + 1
		}
		p.Steps = append(p.Steps, Step{Order: order, Text: *text, Notes: firstText(m, "notes")})
	}
	sort.SliceStable(p.Steps, func(i, j int) bool {
		return p.Steps[i].Order < p.Steps[j].Order
	})

	return p, nil
}

// JSON encodes the plan for storage in plan_json.
func (p *Plan) JSON() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return data, nil
}

// StepCount returns the number of steps in a stored plan_json document.
func StepCount(planJSON json.RawMessage) (int, error) {
	if len(planJSON) == 0 || string(planJSON) == "null" {
		return 0, nil
	}
	var p Plan
	if err := json.Unmarshal(planJSON, &p); err != nil {
		return 0, fmt.Errorf("failed to decode plan: %w", err)
	}
	return len(p.Steps), nil
}

func toDocument(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	case string:
		return decode([]byte(stripFence(v)))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode plan input: %w", err)
		}
		return decode(data)
	}
}

func decode(data []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// stripFence removes a surrounding ```json ... ``` block.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func normalizeOverview(doc map[string]any) Overview {
	nested, _ := doc["overview"].(map[string]any)
	pick := func(keys ...string) *string {
		if s := firstText(nested, keys...); s != nil {
			return s
		}
		return firstText(doc, keys...)
	}
	return Overview{
		Title:   pick("title"),
		EstTime: pick("est_time", "estimated_time"),
		EstCost: pick("est_cost", "estimated_cost"),
		Skill:   pick("skill", "skill_level"),
		Notes:   pick("notes"),
	}
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any, string:
		return []any{t}
	}
	return nil
}

func asEntry(v any, key string) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		return map[string]any{key: t}
	}
	return nil
}

func firstText(m map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s := text(m[k]); s != nil {
			return s
		}
	}
	return nil
}

func text(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case json.Number:
		s = t.String()
	}
	if s == "" {
		return nil
	}
	return &s
}

func firstQty(m map[string]any, keys ...string) any {
	for _, k := range keys {
		switch t := m[k].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		default:
			if f := number(t); f != nil {
				return *f
			}
		}
	}
	return nil
}

func number(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func integer(v any) (int, bool) {
	f := number(v)
	if f == nil || *f != math.Trunc(*f) {
		return 0, false
	}
	return int(*f), true
}
