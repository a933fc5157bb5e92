package dataset

import (
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestDataset(records []domain.ThreatActorRecord) *domain.Dataset {
	return domain.NewDataset("ds-test", "test", records, time.Now())
}
