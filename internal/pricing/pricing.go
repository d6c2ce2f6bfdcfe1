package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"mobibook/internal/config"
	"mobibook/internal/models"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrUnknownSize    = errors.New("unknown vehicle size")
	ErrInvalidInput   = errors.New("invalid price request")
)

// TablePricer quotes from a static price table. Amounts are minor currency units.
type TablePricer struct {
	cfg config.PricingConfig
}

func NewTablePricer(cfg config.PricingConfig) *TablePricer {
	return &TablePricer{cfg: cfg}
}

func (p *TablePricer) Quote(_ context.Context, req models.PriceRequest) (*models.PriceQuote, error) {
	base, ok := p.cfg.Services[req.ServiceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, req.ServiceID)
	}
	if req.DistanceKm < 0 || math.IsNaN(req.DistanceKm) {
		return nil, fmt.Errorf("%w: distance %v", ErrInvalidInput, req.DistanceKm)
	}

	quote := &models.PriceQuote{
		Currency: p.cfg.Currency,
		Lines:    []models.PriceLine{{Label: req.ServiceID, Amount: base}},
	}

	if req.VehicleSize != "" {
		multiplier, ok := p.cfg.SizeMultipliers[req.VehicleSize]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSize, req.VehicleSize)
		}
		if surcharge := roundHalfUp(float64(base)*multiplier) - base; surcharge != 0 {
			quote.Lines = append(quote.Lines, models.PriceLine{Label: "vehicle size " + req.VehicleSize, Amount: surcharge})
		}
	}

	if billable := req.DistanceKm - p.cfg.FreeKm; billable > 0 && p.cfg.PerKm > 0 {
		quote.Lines = append(quote.Lines, models.PriceLine{
			Label:  fmt.Sprintf("travel %.1f km", billable),
			Amount: roundHalfUp(billable * float64(p.cfg.PerKm)),
		})
	}

	for _, line := range quote.Lines {
		quote.Total += line.Amount
	}
	return quote, nil
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
