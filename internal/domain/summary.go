package domain

// DatasetSummary are the descriptive totals of a dataset.
type DatasetSummary struct {
	DatasetID       string         `json:"datasetId"`
	TotalRows       int            `json:"totalRows"`
	TotalActors     int            `json:"totalActors"`
	TotalPlatforms  int            `json:"totalPlatforms"`
	MostCommonCVE   string         `json:"mostCommonCve,omitempty"`
	MostCommonCWE   string         `json:"mostCommonCwe,omitempty"`
	TopActors       []ActorCount   `json:"topActors"`
	RowsPerRegion   map[string]int `json:"rowsPerRegion"`
}

// ActorCount is an actor with its distinct technique count.
type ActorCount struct {
	ActorID    string `json:"actorId"`
	Techniques int    `json:"techniques"`
}
