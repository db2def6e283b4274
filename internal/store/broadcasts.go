package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

type broadcastRow struct {
	models.Broadcast
	AudienceJSON string `db:"audience"`
}

type recipientRow struct {
	models.BroadcastRecipient
	VariablesJSON string `db:"variables"`
}

// CreateBroadcast inserts a new broadcast row.
func (s *Store) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	audience, err := json.Marshal(b.Audience)
	if err != nil {
		return fmt.Errorf("store: marshal audience: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `insert into broadcasts
		(id, tenant_id, account_id, name, channel, template, template_id, audience,
		 status, total_recipients, sent_count, failed_count,
		 scheduled_at, started_at, completed_at, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.AccountID, b.Name, b.Channel, b.Template, b.TemplateID,
		string(audience), b.Status, b.TotalRecipients, b.SentCount, b.FailedCount,
		b.ScheduledAt, b.StartedAt, b.CompletedAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert broadcast: %w", err)
	}
	return nil
}

// GetBroadcast fetches one broadcast by ID.
func (s *Store) GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error) {
	var row broadcastRow
	err := s.db.GetContext(ctx, &row, `select * from broadcasts where id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBroadcastNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch broadcast: %w", err)
	}
	return row.toBroadcast()
}

// ListBroadcasts returns a tenant's broadcasts, newest first. An empty
// status filters nothing.
func (s *Store) ListBroadcasts(ctx context.Context, tenantID, status string) ([]*models.Broadcast, error) {
	query := `select * from broadcasts where tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` and status = ?`
		args = append(args, status)
	}
	query += ` order by created_at desc`

	var rows []broadcastRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list broadcasts: %w", err)
	}
	out := make([]*models.Broadcast, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toBroadcast()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ListDueBroadcasts returns SCHEDULED broadcasts whose scheduled_at is at or
// before the supplied instant.
func (s *Store) ListDueBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error) {
	var rows []broadcastRow
	err := s.db.SelectContext(ctx, &rows,
		`select * from broadcasts where status = ? and scheduled_at is not null and scheduled_at <= ?
		 order by scheduled_at asc`,
		models.BroadcastStatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("store: list due broadcasts: %w", err)
	}
	out := make([]*models.Broadcast, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toBroadcast()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// UpdateBroadcast rewrites the mutable fields of a broadcast row.
func (s *Store) UpdateBroadcast(ctx context.Context, b *models.Broadcast) error {
	audience, err := json.Marshal(b.Audience)
	if err != nil {
		return fmt.Errorf("store: marshal audience: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `update broadcasts set
		name = ?, channel = ?, template = ?, template_id = ?, audience = ?,
		status = ?, total_recipients = ?, sent_count = ?, failed_count = ?,
		scheduled_at = ?, started_at = ?, completed_at = ?, updated_at = ?
		where id = ?`,
		b.Name, b.Channel, b.Template, b.TemplateID, string(audience),
		b.Status, b.TotalRecipients, b.SentCount, b.FailedCount,
		b.ScheduledAt, b.StartedAt, b.CompletedAt, b.UpdatedAt, b.ID)
	if err != nil {
		return fmt.Errorf("store: update broadcast: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBroadcastNotFound
	}
	return nil
}

// InsertRecipients creates the PENDING recipient rows for a broadcast in one
// transaction.
func (s *Store) InsertRecipients(ctx context.Context, recipients []*models.BroadcastRecipient) error {
	if len(recipients) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin recipients tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range recipients {
		vars, err := json.Marshal(r.Variables)
		if err != nil {
			return fmt.Errorf("store: marshal recipient variables: %w", err)
		}
		_, err = tx.ExecContext(ctx, `insert into broadcast_recipients
			(id, broadcast_id, contact_id, recipient_address, variables,
			 status, provider_message_id, error_message, updated_at)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.BroadcastID, r.ContactID, r.RecipientAddress, string(vars),
			r.Status, r.ProviderMessageID, r.ErrorMessage, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: insert recipient: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit recipients tx: %w", err)
	}
	return nil
}

// ListRecipients returns a broadcast's recipients, optionally filtered by
// status.
func (s *Store) ListRecipients(ctx context.Context, broadcastID, status string) ([]*models.BroadcastRecipient, error) {
	query := `select * from broadcast_recipients where broadcast_id = ?`
	args := []any{broadcastID}
	if status != "" {
		query += ` and status = ?`
		args = append(args, status)
	}
	query += ` order by id asc`

	var rows []recipientRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list recipients: %w", err)
	}
	out := make([]*models.BroadcastRecipient, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRecipient()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateRecipient rewrites a recipient's delivery fields.
func (s *Store) UpdateRecipient(ctx context.Context, r *models.BroadcastRecipient) error {
	res, err := s.db.ExecContext(ctx, `update broadcast_recipients set
		status = ?, provider_message_id = ?, error_message = ?, updated_at = ?
		where id = ?`,
		r.Status, r.ProviderMessageID, r.ErrorMessage, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("store: update recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// GetRecipientByProviderID looks a recipient up by the provider message ID
// returned at send time. Used when applying status webhooks to broadcasts.
func (s *Store) GetRecipientByProviderID(ctx context.Context, providerMessageID string) (*models.BroadcastRecipient, error) {
	var row recipientRow
	err := s.db.GetContext(ctx, &row,
		`select * from broadcast_recipients where provider_message_id = ? limit 1`, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch recipient: %w", err)
	}
	return row.toRecipient()
}

// RecipientCounts tallies recipients by status for one broadcast.
func (s *Store) RecipientCounts(ctx context.Context, broadcastID string) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`select status, count(*) from broadcast_recipients where broadcast_id = ? group by status`,
		broadcastID)
	if err != nil {
		return nil, fmt.Errorf("store: count recipients: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: scan recipient count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *broadcastRow) toBroadcast() (*models.Broadcast, error) {
	b := r.Broadcast
	if r.AudienceJSON != "" {
		if err := json.Unmarshal([]byte(r.AudienceJSON), &b.Audience); err != nil {
			return nil, fmt.Errorf("store: decode audience: %w", err)
		}
	}
	return &b, nil
}

func (r *recipientRow) toRecipient() (*models.BroadcastRecipient, error) {
	rec := r.BroadcastRecipient
	if r.VariablesJSON != "" {
		if err := json.Unmarshal([]byte(r.VariablesJSON), &rec.Variables); err != nil {
			return nil, fmt.Errorf("store: decode recipient variables: %w", err)
		}
	}
	return &rec, nil
}
