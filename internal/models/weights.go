package models

import "time"

// Model names used for weight persistence.
const (
	ModelLatentEncoder  = "latent_encoder"
	ModelEventPredictor = "event_predictor"
)

// WeightSnapshot is an opaque checkpoint of one model's trainable
// parameters. Data is the model's own serialized form; storage never
// inspects it beyond these fields.
type WeightSnapshot struct {
	ModelName string    `json:"model_name"`
	Step      int64     `json:"step"`
	Data      []byte    `json:"data"`
	SavedAt   time.Time `json:"saved_at"`
}

// FeedbackState is the persisted singleton state of the representation
// feedback coordinator.
type FeedbackState struct {
	Step         int64   `json:"step"`
	CurrentAlpha float64 `json:"current_alpha"`
}
