package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"ticket-verifier/internal/verification"
	"ticket-verifier/models"
	"ticket-verifier/utils"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

const JournalCollection = "gate_scans"

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Journal keeps a local record of every gate outcome. Ticket identifiers are
// stored only as fingerprints.
type Journal struct {
	app core.App
}

func NewJournal(app core.App) *Journal {
	return &Journal{app: app}
}

// EnsureJournalCollection creates the gate_scans collection when missing.
func EnsureJournalCollection(app core.App) error {
	if _, err := app.FindCollectionByNameOrId(JournalCollection); err == nil {
		return nil
	}

	collection := core.NewBaseCollection(JournalCollection)
	collection.ListRule = types.Pointer("@request.auth.id != ''")
	collection.ViewRule = types.Pointer("@request.auth.id != ''")

	collection.Fields.Add(
		&core.TextField{Name: "fingerprint", Max: 64},
		&core.TextField{Name: "event_id", Max: 64},
		&core.TextField{Name: "event_title", Max: 255},
		&core.TextField{Name: "tier_name", Max: 100},
		&core.SelectField{
			Name:      "outcome",
			Required:  true,
			MaxSelect: 1,
			Values: []string{
				string(verification.OutcomeValid),
				string(verification.OutcomeVerified),
				string(verification.OutcomeAlreadyUsed),
				string(verification.OutcomeError),
			},
		},
		&core.TextField{Name: "error_kind", Max: 50},
		&core.TextField{Name: "operator", Max: 100},
		&core.TextField{Name: "session_id", Max: 64},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	collection.AddIndex("idx_gate_scans_event_created", false, "event_id, created", "")
	collection.AddIndex("idx_gate_scans_fingerprint", false, "fingerprint", "")

	return app.Save(collection)
}

// Observe journals r. Failures are logged; a broken journal must not hold up
// the gate.
func (j *Journal) Observe(ctx context.Context, r verification.Result) {
	if err := j.Record(ctx, r); err != nil {
		slog.Error("journal: record scan", "error", err, "session", r.SessionID, "ticket", utils.Fingerprint(r.TicketID))
	}
}

func (j *Journal) Record(ctx context.Context, r verification.Result) error {
	collection, err := j.app.FindCachedCollectionByNameOrId(JournalCollection)
	if err != nil {
		return fmt.Errorf("journal: find collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("fingerprint", utils.Fingerprint(r.TicketID))
	record.Set("outcome", string(r.Outcome))
	record.Set("error_kind", string(r.ErrorKind))
	record.Set("operator", r.Operator)
	record.Set("session_id", r.SessionID)
	if r.Record != nil {
		record.Set("event_id", r.Record.Event.ID)
		record.Set("event_title", r.Record.Event.Title)
		record.Set("tier_name", r.Record.Tier.Name)
	}

	if err := j.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("journal: save: %w", err)
	}
	return nil
}

// Recent lists the newest journal rows, optionally for one event only.
func (j *Journal) Recent(ctx context.Context, eventID string, limit int) ([]models.ScanLog, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	q := j.app.DB().
		Select("id", "fingerprint", "event_id", "event_title", "tier_name", "outcome", "error_kind", "operator", "session_id", "created").
		From(JournalCollection).
		OrderBy("created DESC", "id DESC").
		Limit(int64(limit))
	if eventID != "" {
		q.AndWhere(dbx.HashExp{"event_id": eventID})
	}

	rows := []models.ScanLog{}
	if err := q.WithContext(ctx).All(&rows); err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return rows, nil
}

// Counts tallies outcomes for an event, e.g. for a door dashboard.
func (j *Journal) Counts(ctx context.Context, eventID string) (map[string]int, error) {
	if eventID == "" {
		return nil, errors.New("journal: event id required")
	}

	var rows []dbx.NullStringMap
	err := j.app.DB().
		Select("outcome", "COUNT(*) AS total").
		From(JournalCollection).
		Where(dbx.HashExp{"event_id": eventID}).
		GroupBy("outcome").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("journal: count: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		n, err := strconv.Atoi(row["total"].String)
		if err != nil {
			return nil, fmt.Errorf("journal: count: %w", err)
		}
		counts[row["outcome"].String] = n
	}
	return counts, nil
}
