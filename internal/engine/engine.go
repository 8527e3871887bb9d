package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signoff/internal/audit"
	"signoff/internal/config"
	"signoff/internal/domain"
	"signoff/internal/repo"
)

// Engine orchestrates approval actions. Every mutation runs in a single
// transaction that re-resolves the approval state before changing it, so a
// raced precondition surfaces as a Conflict instead of corrupt facts.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Settings config.Settings
	Log      zerolog.Logger

	// Now is the clock; tests freeze it.
	Now func() time.Time

	// ReadyBelow overrides the bottom-up completion check. Nil means the
	// default: every descendant org unit at the next-lower level's depth
	// holds a fact.
	ReadyBelow ReadyBelowFunc

	levelMu *sync.Mutex
}

func New(db *sql.DB, cfg config.Settings, log zerolog.Logger) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Audit:    audit.Writer{DB: db},
		Settings: cfg,
		Log:      log,
		Now:      time.Now,
		levelMu:  &sync.Mutex{},
	}
}

func (e Engine) timestamp() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// storeReader abstracts pool vs transaction reads. Mutations resolve state
// through the transaction reader; queries use the pool reader.
type storeReader struct {
	getOrgUnit   func(ctx context.Context, uid string) (domain.OrgUnit, error)
	getApproval  func(ctx context.Context, levelUID, workflowUID, period, orgUnitUID, combo string) (domain.Approval, error)
	atLevelUnder func(ctx context.Context, pathPrefix string, level int) ([]domain.OrgUnit, error)
}

func (e Engine) poolReader() storeReader {
	return storeReader{
		getOrgUnit:   e.Repo.GetOrgUnit,
		getApproval:  e.Repo.GetApproval,
		atLevelUnder: e.Repo.ListOrgUnitsAtLevelUnder,
	}
}

func (e Engine) txReader(tx *sql.Tx) storeReader {
	return storeReader{
		getOrgUnit: func(ctx context.Context, uid string) (domain.OrgUnit, error) {
			return e.Repo.GetOrgUnitTx(ctx, tx, uid)
		},
		getApproval: func(ctx context.Context, levelUID, workflowUID, period, orgUnitUID, combo string) (domain.Approval, error) {
			return e.Repo.GetApprovalTx(ctx, tx, levelUID, workflowUID, period, orgUnitUID, combo)
		},
		atLevelUnder: func(ctx context.Context, pathPrefix string, level int) ([]domain.OrgUnit, error) {
			return e.Repo.ListOrgUnitsAtLevelUnderTx(ctx, tx, pathPrefix, level)
		},
	}
}
