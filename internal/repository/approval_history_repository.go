package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-pr-approvals/internal/database"
	"github.com/pesio-ai/be-pr-approvals/internal/errors"
)

// ApprovalHistoryRepository reads the immutable purchase request decision log.
// Entries are appended only as part of a transition (PurchaseRequestRepository.Save);
// the table has an update/delete-prevention trigger.
type ApprovalHistoryRepository struct {
	db *database.DB
}

// NewApprovalHistoryRepository creates a new ApprovalHistoryRepository.
func NewApprovalHistoryRepository(db *database.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{db: db}
}

// appendHistory inserts one history entry inside tx.
func appendHistory(ctx context.Context, tx pgx.Tx, entry *HistoryEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history metadata")
		}
	}

	query := `
		INSERT INTO purchase_request_history
		    (id, purchase_request_id, plan_id, stage_index, stage,
		     decision, actor_code, reason,
		     status_before, status_after, auto_satisfied,
		     metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10, $11,
		        $12, $13)
	`

	_, err := tx.Exec(ctx, query,
		entry.ID,
		entry.PurchaseRequestID,
		nullIfEmpty(entry.PlanID),
		entry.StageIndex,
		nullIfEmpty(string(entry.Stage)),
		string(entry.Decision),
		entry.ActorCode,
		entry.Reason,
		entry.StatusBefore.String(),
		entry.StatusAfter.String(),
		entry.AutoSatisfied,
		metadataJSON,
		entry.OccurredAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append history entry")
	}
	return nil
}

// GetByPurchaseRequest returns the full decision trail, oldest first.
func (r *ApprovalHistoryRepository) GetByPurchaseRequest(ctx context.Context, prID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, purchase_request_id, COALESCE(plan_id::text, ''), stage_index, COALESCE(stage, ''),
		       decision, actor_code, reason,
		       status_before, status_after, auto_satisfied,
		       metadata, occurred_at
		FROM purchase_request_history
		WHERE purchase_request_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, prID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *ApprovalHistoryRepository) scanEntry(sc rowScanner) (*HistoryEntry, error) {
	entry := &HistoryEntry{}
	var stage, decision, before, after string
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.PurchaseRequestID,
		&entry.PlanID,
		&entry.StageIndex,
		&stage,
		&decision,
		&entry.ActorCode,
		&entry.Reason,
		&before,
		&after,
		&entry.AutoSatisfied,
		&metadataJSON,
		&entry.OccurredAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
	}

	entry.Stage = StageKind(stage)
	entry.Decision = Decision(decision)
	if entry.StatusBefore, err = ParseStatus(before); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "corrupt history status")
	}
	if entry.StatusAfter, err = ParseStatus(after); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "corrupt history status")
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal history metadata")
		}
	}
	return entry, nil
}
