package models

// Station represents a train station
type Station struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
	City string `json:"city" yaml:"city"`
}
