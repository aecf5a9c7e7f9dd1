// Package reference serves the read-only disease taxonomy: systems contain
// categories which contain diseases. The frontend consumes it as one
// flattened listing.
package reference

type Disease struct {
	DiseaseID    int64  `json:"disease_id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
	SystemID     int64  `json:"system_id"`
	SystemName   string `json:"system_name"`
}
