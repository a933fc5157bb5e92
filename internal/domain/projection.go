package domain

// ProjectionParams drive the year-by-year attack/defense projection.
type ProjectionParams struct {
	StartYear      int     `json:"startYear" mapstructure:"startyear"`
	EndYear        int     `json:"endYear" mapstructure:"endyear"`
	BaseYear       int     `json:"baseYear" mapstructure:"baseyear"`
	Growth         float64 `json:"growth" mapstructure:"growth"`
	InitialDefense float64 `json:"initialDefense" mapstructure:"initialdefense"`
	DefenseFactor  float64 `json:"defenseFactor" mapstructure:"defensefactor"`
}

// DefaultProjectionParams returns the default 2019..2050 horizon with base year 2024.
func DefaultProjectionParams() ProjectionParams {
	return ProjectionParams{
		StartYear:      2019,
		EndYear:        2050,
		BaseYear:       2024,
		Growth:         0.05,
		InitialDefense: 1,
		DefenseFactor:  0.5,
	}
}

// ProjectionPoint is one actor's projected probability for one year.
type ProjectionPoint struct {
	ActorID     string  `json:"actorId"`
	Year        int     `json:"year"`
	Probability float64 `json:"probability"`
	Percentage  float64 `json:"percentage"`
}

// Projection is the full projection of a dataset.
type Projection struct {
	DatasetID          string            `json:"datasetId"`
	Params             ProjectionParams  `json:"params"`
	VulnerabilityScore float64           `json:"vulnerabilityScore"`
	Points             []ProjectionPoint `json:"points"`
}
