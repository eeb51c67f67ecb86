package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"auction-logistics/internal/platform/xerrors"
)

type Stage struct {
	ID          string `json:"id"`
	PipelineID  string `json:"pipelineId"`
	Name        string `json:"name"`
	Order       int    `json:"order"`
	IsClosing   bool   `json:"isClosing"`
	IsLost      bool   `json:"isLost"`
	Probability int    `json:"probability"`
}

// Terminal reports whether a deal entering the stage gets an outcome.
func (s Stage) Terminal() bool { return s.IsClosing || s.IsLost }

type Pipeline struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"isDefault"`
	Stages    []Stage   `json:"stages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SortStages orders stages by Order.
func (p *Pipeline) SortStages() {
	sort.SliceStable(p.Stages, func(i, j int) bool { return p.Stages[i].Order < p.Stages[j].Order })
}

func (p *Pipeline) Stage(id string) (Stage, bool) {
	return lo.Find(p.Stages, func(s Stage) bool { return s.ID == id })
}

// FirstOpenStage is the lowest ordered non-terminal stage.
func (p *Pipeline) FirstOpenStage() (Stage, bool) {
	return p.first(func(s Stage) bool { return !s.Terminal() })
}

func (p *Pipeline) FirstClosingStage() (Stage, bool) {
	return p.first(func(s Stage) bool { return s.IsClosing })
}

func (p *Pipeline) FirstLostStage() (Stage, bool) {
	return p.first(func(s Stage) bool { return s.IsLost })
}

func (p *Pipeline) first(pred func(Stage) bool) (Stage, bool) {
	var best Stage
	found := false
	for _, s := range p.Stages {
		if pred(s) && (!found || s.Order < best.Order) {
			best, found = s, true
		}
	}
	return best, found
}

// Validate checks the stage layout: contiguous orders from zero, unique
// names, at least one open stage and no stage both closing and lost.
func (p *Pipeline) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", xerrors.ErrInvalidPipeline)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: at least one stage is required", xerrors.ErrInvalidPipeline)
	}

	orders := lo.Map(p.Stages, func(s Stage, _ int) int { return s.Order })
	sort.Ints(orders)
	for i, o := range orders {
		if o != i {
			return fmt.Errorf("%w: stage orders must be contiguous from 0, got %v", xerrors.ErrInvalidPipeline, orders)
		}
	}

	seen := map[string]struct{}{}
	for _, s := range p.Stages {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name == "" {
			return fmt.Errorf("%w: stage %d has no name", xerrors.ErrInvalidPipeline, s.Order)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate stage name %q", xerrors.ErrInvalidPipeline, s.Name)
		}
		seen[name] = struct{}{}

		if s.IsClosing && s.IsLost {
			return fmt.Errorf("%w: stage %q cannot be both closing and lost", xerrors.ErrInvalidPipeline, s.Name)
		}
		if s.Probability < 0 || s.Probability > 100 {
			return fmt.Errorf("%w: stage %q probability must be within 0..100", xerrors.ErrInvalidPipeline, s.Name)
		}
	}

	if !lo.ContainsBy(p.Stages, func(s Stage) bool { return !s.Terminal() }) {
		return fmt.Errorf("%w: at least one non-terminal stage is required", xerrors.ErrInvalidPipeline)
	}
	return nil
}

// DefaultPipeline is seeded when the store has no pipelines.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Name:      "Vehicle sales",
		IsDefault: true,
		Stages: []Stage{
			{Name: "Lead", Order: 0, Probability: 10},
			{Name: "Qualified", Order: 1, Probability: 25},
			{Name: "Quote sent", Order: 2, Probability: 50},
			{Name: "Negotiation", Order: 3, Probability: 75},
			{Name: "Won", Order: 4, IsClosing: true, Probability: 100},
			{Name: "Lost", Order: 5, IsLost: true, Probability: 0},
		},
	}
}
