package dto

import "time"

type SignalementRequest struct {
	Description string             `json:"description"`
	Entreprise  string             `json:"entreprise"`
	Position    map[string]float64 `json:"position"`
	Status      string             `json:"status"`
	Surface     float64            `json:"surface"`
	Budget      float64            `json:"budget"`
	Date        *time.Time         `json:"date"`
	DateDebut   *time.Time         `json:"date_debut"`
	DateFin     *time.Time         `json:"date_fin"`
}

// ReconcileCounts is the aggregate result of one reconciliation pass.
type ReconcileCounts struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type QueueDrainResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
