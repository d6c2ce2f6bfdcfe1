package slots

import (
	"context"
	"errors"
	"fmt"

	"mobibook/internal/database"
	"mobibook/internal/models"

	"github.com/rs/zerolog"
)

type SlotCreator interface {
	CreateSlot(ctx context.Context, slot *models.Slot) error
}

type Result struct {
	Created []*models.Slot `json:"created"`
	Skipped int            `json:"skipped"`
}

// Generator bulk-creates slots from a plan. Existing (date, start time)
// pairs are skipped, not treated as errors.
type Generator struct {
	store  SlotCreator
	logger *zerolog.Logger
}

func NewGenerator(store SlotCreator, logger *zerolog.Logger) *Generator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Generator{store: store, logger: logger}
}

func (g *Generator) Generate(ctx context.Context, plan Plan) (*Result, error) {
	c, err := plan.compile()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seen := make(map[string]bool)

	for day := c.from; !day.After(c.to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for _, start := range c.timesFor(day) {
			key := day.Format(models.DateLayout) + " " + start
			if seen[key] {
				res.Skipped++
				continue
			}
			seen[key] = true

			slot := &models.Slot{Date: day, StartTime: start, Notes: c.notes}
			err := g.store.CreateSlot(ctx, slot)
			switch {
			case errors.Is(err, database.ErrDuplicateSlot):
				res.Skipped++
			case err != nil:
				return res, fmt.Errorf("create slot %s: %w", key, err)
			default:
				res.Created = append(res.Created, slot)
			}
		}
	}

	g.logger.Info().
		Str("from", c.from.Format(models.DateLayout)).
		Str("to", c.to.Format(models.DateLayout)).
		Int("created", len(res.Created)).
		Int("skipped", res.Skipped).
		Msg("slots generated")
	return res, nil
}
