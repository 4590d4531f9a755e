package partition

import (
	"errors"
	"testing"
	"time"

	"github.com/obslake/obslake/timerange"
	"github.com/obslake/obslake/utils"
)

var (
	base    = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	viewKey = ViewKey{ViewSetName: "log_entries", ViewInstanceID: "proc-1"}
)

func validEmpty() Partition {
	return Partition{
		View:            viewKey,
		InsertTimeRange: timerange.MustNew(base, base.Add(time.Minute)),
		UpdatedAt:       base,
		SourceDataHash:  utils.HashBytes([]byte("src")),
		FileSchemaHash:  utils.HashBytes([]byte("schema")),
	}
}

func validNonEmpty() Partition {
	p := validEmpty()
	p.NumRows = 500
	p.FileSize = 1234
	p.FilePath = utils.Ptr("views/log_entries/proc-1/2024-05-01/10-00-00_abcd.parquet")
	evt := timerange.MustNew(base.Add(-90*time.Second), base.Add(105*time.Second))
	p.EventTimeRange = &evt
	return p
}

func TestValidateEmpty(t *testing.T) {
	p := validEmpty()
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if !p.IsEmpty() {
		t.Fatal("expected empty")
	}
}

func TestValidateNonEmpty(t *testing.T) {
	p := validNonEmpty()
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.IsEmpty() {
		t.Fatal("expected non-empty")
	}
}

func TestValidateFourWayAgreement(t *testing.T) {
	// Mutate one fact at a time; each inconsistent combination must be
	// rejected as an invariant violation.
	mutations := map[string]func(p *Partition){
		"empty with event range": func(p *Partition) {
			*p = validEmpty()
			evt := timerange.MustNew(base, base.Add(time.Minute))
			p.EventTimeRange = &evt
		},
		"empty with file path": func(p *Partition) {
			*p = validEmpty()
			p.FilePath = utils.Ptr("views/x.parquet")
		},
		"empty with file size": func(p *Partition) {
			*p = validEmpty()
			p.FileSize = 10
		},
		"rows without event range": func(p *Partition) {
			*p = validNonEmpty()
			p.EventTimeRange = nil
		},
		"rows without file path": func(p *Partition) {
			*p = validNonEmpty()
			p.FilePath = nil
		},
		"rows without file size": func(p *Partition) {
			*p = validNonEmpty()
			p.FileSize = 0
		},
	}
	for name, mutate := range mutations {
		var p Partition
		mutate(&p)
		err := p.Validate()
		if !errors.Is(err, ErrInvariantViolation) {
			t.Fatalf("%s: expected invariant violation, got %v", name, err)
		}
	}
}

func TestValidateIdentity(t *testing.T) {
	p := validEmpty()
	p.View.ViewSetName = ""
	if !errors.Is(p.Validate(), ErrInvariantViolation) {
		t.Fatal("expected invariant violation for missing identity")
	}
}

func TestEventTimeOutsideInsertRangeIsLegal(t *testing.T) {
	// Event time reflects when something happened; insertion time when it
	// was recorded. The former is not bounded by the latter.
	p := validNonEmpty()
	evt := timerange.MustNew(base.Add(-24*time.Hour), base.Add(-23*time.Hour))
	p.EventTimeRange = &evt
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
}
