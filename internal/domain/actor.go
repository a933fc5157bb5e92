// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ThreatActorRecord is one dataset row for a single threat actor occurrence.
// A dataset carries several rows per actor, one per technique/CVE/tactic combination,
// each holding a copy of the actor-level attributes.
type ThreatActorRecord struct {
	ActorID       string  `json:"actorId"`
	TechniqueID   string  `json:"techniqueId"`
	TacticID      string  `json:"tacticId"`
	TacticWeight  float64 `json:"tacticWeight"`
	PlatformCount int     `json:"platformCount"`
	Region        string  `json:"region"`
	RegionWeight  float64 `json:"regionWeight"`
	CVSSBaseScore float64 `json:"cvssBaseScore"`
	CVECount      int     `json:"cveCount"`
	IoCWeight     float64 `json:"iocWeight"`
	ElapsedYears  float64 `json:"elapsedYears"`

	// Descriptive columns. Scoring never reads these.
	TacticDescription  string   `json:"tacticDescription,omitempty"`
	Platforms          []string `json:"platforms,omitempty"`
	CVEID              string   `json:"cveId,omitempty"`
	CWEID              string   `json:"cweId,omitempty"`
	AttackerCategory   string   `json:"attackerCategory,omitempty"`
	VulnerabilityScore *float64 `json:"vulnerabilityScore,omitempty"`
}

// Dataset is an immutable set of threat actor records from one ingestion.
// Construct it with NewDataset; the record slice is copied and never mutated.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`

	records []ThreatActorRecord
	byActor map[string][]int
	actors  []string
}

// DatasetInfo is the listing view of a stored dataset.
type DatasetInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	Rows        int       `json:"rows"`
	Actors      int       `json:"actors"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewDataset builds an indexed, immutable dataset.
func NewDataset(id, name string, records []ThreatActorRecord, createdAt time.Time) *Dataset {
	ds := &Dataset{
		ID:        id,
		Name:      name,
		CreatedAt: createdAt,
		records:   make([]ThreatActorRecord, len(records)),
		byActor:   make(map[string][]int),
	}
	copy(ds.records, records)

	for i, r := range ds.records {
		if _, ok := ds.byActor[r.ActorID]; !ok {
			ds.actors = append(ds.actors, r.ActorID)
		}
		ds.byActor[r.ActorID] = append(ds.byActor[r.ActorID], i)
	}
	sort.Strings(ds.actors)
	ds.Fingerprint = fingerprint(ds.records)

	return ds
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Records returns a copy of all rows.
func (d *Dataset) Records() []ThreatActorRecord {
	out := make([]ThreatActorRecord, len(d.records))
	copy(out, d.records)
	return out
}

// ActorIDs returns the distinct actor identifiers in sorted order.
func (d *Dataset) ActorIDs() []string {
	out := make([]string, len(d.actors))
	copy(out, d.actors)
	return out
}

// HasActor reports whether the actor has at least one row.
func (d *Dataset) HasActor(actorID string) bool {
	_, ok := d.byActor[actorID]
	return ok
}

// ActorRows returns copies of the rows attributed to actorID.
func (d *Dataset) ActorRows(actorID string) []ThreatActorRecord {
	idx := d.byActor[actorID]
	out := make([]ThreatActorRecord, len(idx))
	for i, j := range idx {
		out[i] = d.records[j]
	}
	return out
}

// TacticWeight returns the mean weight over rows carrying tacticID.
func (d *Dataset) TacticWeight(tacticID string) (float64, bool) {
	var sum float64
	var n int
	for _, r := range d.records {
		if r.TacticID == tacticID {
			sum += r.TacticWeight
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// RegionWeight returns the mean weight over rows carrying region.
func (d *Dataset) RegionWeight(region string) (float64, bool) {
	var sum float64
	var n int
	for _, r := range d.records {
		if r.Region == region {
			sum += r.RegionWeight
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Info returns the listing view of the dataset.
func (d *Dataset) Info() DatasetInfo {
	return DatasetInfo{
		ID:          d.ID,
		Name:        d.Name,
		Fingerprint: d.Fingerprint,
		Rows:        len(d.records),
		Actors:      len(d.actors),
		CreatedAt:   d.CreatedAt,
	}
}

// fingerprint hashes the scoring-relevant columns of every row in order.
func fingerprint(records []ThreatActorRecord) string {
	h := sha256.New()
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, r := range records {
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%d\x1f%s\x1f%s\x1f%s\x1f%d\x1f%s\x1f%s\x1e",
			r.ActorID, r.TechniqueID, r.TacticID, f(r.TacticWeight), r.PlatformCount,
			r.Region, f(r.RegionWeight), f(r.CVSSBaseScore), r.CVECount,
			f(r.IoCWeight), f(r.ElapsedYears),
		)
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1e", strings.Join(r.Platforms, ","), r.CVEID, r.CWEID)
	}
	return hex.EncodeToString(h.Sum(nil))
}
