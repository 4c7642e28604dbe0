// Package suggestions serves design ideas for a room and style, cached in a
// bounded LRU with a short TTL.
package suggestions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/singleflight"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/metrics"
)

// sourceTimeout bounds one shared source call. The call runs detached from
// the callers waiting on it.
const sourceTimeout = 30 * time.Second

type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CostLevel   string `json:"cost_level,omitempty"`
}

type Source interface {
	Name() string
	Suggest(ctx context.Context, room, style string) ([]Suggestion, error)
}

type Service struct {
	cache    *expirable.LRU[string, []Suggestion]
	source   Source
	fallback Source
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewService builds the cache. A nil source uses the built-in catalog.
func NewService(source Source, size int, ttl time.Duration, logger zerolog.Logger) *Service {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	fallback := Catalog{}
	if source == nil {
		source = fallback
	}
	return &Service{
		cache:    expirable.NewLRU[string, []Suggestion](size, nil, ttl),
		source:   source,
		fallback: fallback,
		logger:   logger.With().Str("component", "suggestions").Logger(),
	}
}

// Suggest returns ideas for room in style. style may be empty.
func (s *Service) Suggest(ctx context.Context, room, style string) ([]Suggestion, error) {
	room = normalize(room)
	style = normalize(style)
	if room == "" {
		return nil, errs.Validation("room is required")
	}
	key := room + "|" + style

	if cached, ok := s.cache.Get(key); ok {
		metrics.SuggestionCacheHitsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.SuggestionCacheHitsTotal.WithLabelValues("miss").Inc()

	ch := s.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sourceTimeout)
		defer cancel()

		out, err := s.source.Suggest(shared, room, style)
		if err != nil || len(out) == 0 {
			s.logger.Warn().Err(err).Str("source", s.source.Name()).Str("room", room).Msg("suggestion source failed, using catalog")
			out, err = s.fallback.Suggest(shared, room, style)
			if err != nil {
				return nil, err
			}
		}
		s.cache.Add(key, out)
		return out, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Suggestion), nil
	}
}

// Len reports how many entries are cached.
func (s *Service) Len() int {
	return s.cache.Len()
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "-", " ")), "_")
}

// Catalog is the built-in suggestion list.
type Catalog struct{}

func (Catalog) Name() string { return "catalog" }

var catalog = map[string][]Suggestion{
	"kitchen": {
		{Title: "Paint the cabinets", Description: "A two-tone cabinet finish refreshes the room without replacing boxes.", CostLevel: "low"},
		{Title: "Peel-and-stick backsplash", Description: "Tile-look panels go up over existing drywall in an afternoon.", CostLevel: "low"},
		{Title: "Swap the hardware", Description: "New pulls and knobs in a single finish tie the room together.", CostLevel: "low"},
		{Title: "Under-cabinet lighting", Description: "Plug-in LED strips brighten counters and add depth at night.", CostLevel: "medium"},
	},
	"bathroom": {
		{Title: "Regrout and reseal", Description: "Fresh grout lines make old tile look new.", CostLevel: "low"},
		{Title: "Framed mirror", Description: "Framing a builder mirror adds a finished look.", CostLevel: "low"},
		{Title: "Vanity update", Description: "Paint the vanity and replace the faucet for a modern feel.", CostLevel: "medium"},
	},
	"bedroom": {
		{Title: "Accent wall", Description: "A board-and-batten or painted accent wall behind the bed anchors the room.", CostLevel: "low"},
		{Title: "Layered lighting", Description: "Add bedside sconces and a dimmable overhead fixture.", CostLevel: "medium"},
		{Title: "Built-in shelving", Description: "Shelves around a window create storage and a reading nook.", CostLevel: "medium"},
	},
	"living_room": {
		{Title: "Picture ledge gallery", Description: "Ledges let you rotate art without new holes.", CostLevel: "low"},
		{Title: "Fireplace refresh", Description: "Limewash or paint the surround and update the mantel.", CostLevel: "medium"},
		{Title: "Wainscoting", Description: "Panel moulding adds texture to large plain walls.", CostLevel: "medium"},
	},
}

var general = []Suggestion{
	{Title: "Fresh paint", Description: "A new wall color is the fastest way to change a room.", CostLevel: "low"},
	{Title: "Lighting swap", Description: "Replace dated fixtures with warm LED fittings.", CostLevel: "medium"},
	{Title: "Declutter and add storage", Description: "Closed storage keeps surfaces clear.", CostLevel: "low"},
}

var styleNotes = map[string]string{
	"modern":       "Keep lines clean and finishes matte.",
	"farmhouse":    "Lean on warm wood tones and black hardware.",
	"scandinavian": "Use light woods and a pale palette.",
	"industrial":   "Mix raw metal with reclaimed wood.",
	"traditional":  "Choose classic profiles and brass accents.",
}

func (Catalog) Suggest(_ context.Context, room, style string) ([]Suggestion, error) {
	base, ok := catalog[room]
	if !ok {
		base = general
	}
	out := make([]Suggestion, len(base))
	copy(out, base)
	if note, ok := styleNotes[style]; ok {
		for i := range out {
			out[i].Description += " " + note
		}
	}
	return out, nil
}

const suggestionPrompt = `Suggest 4 home improvement ideas for a %s in %s style.
Reply with a JSON object {"suggestions": [{"title", "description", "cost_level"}]}
where cost_level is one of low, medium or high.`

// LLMSource asks a language model for suggestions in JSON mode.
type LLMSource struct {
	model llms.Model
}

func NewLLMSource(model llms.Model) *LLMSource {
	return &LLMSource{model: model}
}

func (l *LLMSource) Name() string { return "llm" }

func (l *LLMSource) Suggest(ctx context.Context, room, style string) ([]Suggestion, error) {
	if style == "" {
		style = "any"
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, l.model,
		fmt.Sprintf(suggestionPrompt, strings.ReplaceAll(room, "_", " "), style),
		llms.WithJSONMode(),
		llms.WithTemperature(0.7),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate suggestions: %w", err)
	}

	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimSuffix(strings.TrimPrefix(out, "```"), "```")

	var doc struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	valid := doc.Suggestions[:0]
	for _, s := range doc.Suggestions {
		if strings.TrimSpace(s.Title) != "" {
			valid = append(valid, s)
		}
	}
	return valid, nil
}
