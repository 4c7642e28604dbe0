package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// StubPreview answers after Delay with the input image, or with a
// placeholder seeded from the request when PlaceholderBaseURL is set.
type StubPreview struct {
	Delay              time.Duration
	PlaceholderBaseURL string
}

func (s *StubPreview) Name() string { return "stub" }

func (s *StubPreview) GeneratePreview(ctx context.Context, imageURL string, opts PreviewOptions) (*PreviewResult, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return nil, err
	}

	url := imageURL
	if s.PlaceholderBaseURL != "" {
		url = fmt.Sprintf("%s/seed/%s/1024/768", strings.TrimRight(s.PlaceholderBaseURL, "/"), seed(imageURL, opts))
	}
	if url == "" {
		return nil, fmt.Errorf("stub preview needs an input image")
	}

	return &PreviewResult{
		PreviewURL: url,
		Meta: map[string]interface{}{
			"provider": "stub",
			"style":    opts.Style,
		},
	}, nil
}

func seed(imageURL string, opts PreviewOptions) string {
	h := fnv.New64a()
	h.Write([]byte(imageURL))
	h.Write([]byte{0})
	h.Write([]byte(opts.Style + "|" + opts.RoomType + "|" + opts.Prompt))
	return fmt.Sprintf("%016x", h.Sum64())
}

// StubPlan returns a fixed painting plan shaped from the request after Delay.
type StubPlan struct {
	Delay time.Duration
}

func (s *StubPlan) Name() string { return "stub" }

func (s *StubPlan) GeneratePlan(ctx context.Context, opts PlanOptions) (interface{}, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(opts.Description)
	if title == "" {
		title = "Refresh a room"
	}
	skill := opts.SkillLevel
	if skill == "" {
		skill = "beginner"
	}
	var cost interface{}
	if opts.Budget != "" {
		cost = opts.Budget
	}

	return map[string]interface{}{
		"overview": map[string]interface{}{
			"title":    title,
			"est_time": "1 weekend",
			"est_cost": cost,
			"skill":    skill,
			"notes":    "Generic plan. Adjust quantities to your room.",
		},
		"materials": []interface{}{
			map[string]interface{}{"name": "Primer", "qty": 1, "notes": "gallon"},
			map[string]interface{}{"name": "Interior paint", "qty": 2, "notes": "gallons"},
			map[string]interface{}{"name": "Painter's tape", "quantity": "2 rolls"},
			map[string]interface{}{"name": "Spackle"},
		},
		"tools": []interface{}{"Roller and tray", "Angled brush", "Drop cloth", "Step ladder"},
		"cuts":  []interface{}{},
		"steps": []interface{}{
			map[string]interface{}{"order": 1, "text": "Clear the room and cover floors with drop cloths"},
			map[string]interface{}{"order": 2, "text": "Patch holes with spackle and sand smooth"},
			map[string]interface{}{"order": 3, "text": "Tape trim, outlets and ceiling edges"},
			map[string]interface{}{"order": 4, "text": "Prime walls and let dry"},
			map[string]interface{}{"order": 5, "text": "Cut in edges with the brush, then roll two coats"},
			map[string]interface{}{"order": 6, "text": "Remove tape while the last coat is slightly wet"},
		},
	}, nil
}
