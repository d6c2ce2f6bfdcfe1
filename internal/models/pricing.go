package models

type PriceRequest struct {
	ServiceID   string  `json:"service_id"`
	VehicleSize string  `json:"vehicle_size"`
	DistanceKm  float64 `json:"distance_km"`
}

type PriceLine struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

type PriceQuote struct {
	Total    int64       `json:"total"`
	Currency string      `json:"currency"`
	Lines    []PriceLine `json:"lines"`
}
