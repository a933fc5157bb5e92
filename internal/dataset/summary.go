package dataset

import (
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// TopActorLimit is the number of actors listed in a summary.
const TopActorLimit = 10

// placeholder CVE/CWE values that never count as "most common".
var placeholderIDs = map[string]bool{
	"":               true,
	"unknown":        true,
	"nvd-cwe-noinfo": true,
	"nvd-cwe-other":  true,
}

// Summarize computes the descriptive totals of a dataset.
func Summarize(ds *domain.Dataset) domain.DatasetSummary {
	platforms := make(map[string]struct{})
	cves := make(map[string]int)
	cwes := make(map[string]int)
	regions := make(map[string]int)

	for _, r := range ds.Records() {
		for _, p := range r.Platforms {
			platforms[p] = struct{}{}
		}
		if !placeholderIDs[strings.ToLower(r.CVEID)] {
			cves[r.CVEID]++
		}
		if !placeholderIDs[strings.ToLower(r.CWEID)] {
			cwes[r.CWEID]++
		}
		if r.Region != "" {
			regions[r.Region]++
		}
	}

	top := make([]domain.ActorCount, 0, len(ds.ActorIDs()))
	for _, id := range ds.ActorIDs() {
		techniques := make(map[string]struct{})
		for _, r := range ds.ActorRows(id) {
			if r.TechniqueID != "" {
				techniques[r.TechniqueID] = struct{}{}
			}
		}
		top = append(top, domain.ActorCount{ActorID: id, Techniques: len(techniques)})
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Techniques != top[j].Techniques {
			return top[i].Techniques > top[j].Techniques
		}
		return top[i].ActorID < top[j].ActorID
	})
	if len(top) > TopActorLimit {
		top = top[:TopActorLimit]
	}

	return domain.DatasetSummary{
		DatasetID:      ds.ID,
		TotalRows:      ds.Len(),
		TotalActors:    len(ds.ActorIDs()),
		TotalPlatforms: len(platforms),
		MostCommonCVE:  mostCommon(cves),
		MostCommonCWE:  mostCommon(cwes),
		TopActors:      top,
		RowsPerRegion:  regions,
	}
}

// mostCommon returns the highest-count key; ties go to the smallest key.
func mostCommon(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
