package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore wraps db.
func NewStore(db *DB) *Store {
	return &Store{db: db, logger: slog.Default().With("component", "storage")}
}

type conversationRow struct {
	ID              string    `db:"id"`
	Title           string    `db:"title"`
	Persona         string    `db:"persona"`
	Emotion         string    `db:"emotion"`
	Topic           string    `db:"topic"`
	Tier            string    `db:"tier"`
	Status          string    `db:"status"`
	QualityScore    float64   `db:"quality_score"`
	QualityMetrics  []byte    `db:"quality_metrics"`
	ConfidenceLevel string    `db:"confidence_level"`
	TotalTurns      int       `db:"total_turns"`
	TotalTokens     int       `db:"total_tokens"`
	CostUSD         float64   `db:"cost_usd"`
	Model           string    `db:"model"`
	TemplateID      string    `db:"template_id"`
	Parameters      []byte    `db:"parameters"`
	CreatedBy       string    `db:"created_by"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func toConversationRow(rec *domain.ConversationRecord) (conversationRow, error) {
	metrics, err := json.Marshal(rec.QualityMetrics)
	if err != nil {
		return conversationRow{}, fmt.Errorf("marshal quality metrics: %w", err)
	}
	params := rec.Parameters
	if params == nil {
		params = map[string]string{}
	}
	paramJSON, err := json.Marshal(params)
	if err != nil {
		return conversationRow{}, fmt.Errorf("marshal parameters: %w", err)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = rec.CreatedAt
	}
	return conversationRow{
		ID:              rec.ID,
		Title:           rec.Title,
		Persona:         rec.Persona,
		Emotion:         rec.Emotion,
		Topic:           rec.Topic,
		Tier:            string(rec.Tier),
		Status:          string(rec.Status),
		QualityScore:    rec.QualityScore,
		QualityMetrics:  metrics,
		ConfidenceLevel: string(rec.ConfidenceLevel),
		TotalTurns:      rec.TotalTurns,
		TotalTokens:     rec.TotalTokens,
		CostUSD:         float64(rec.CostUSD),
		Model:           rec.Model,
		TemplateID:      rec.TemplateID,
		Parameters:      paramJSON,
		CreatedBy:       rec.CreatedBy,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       updated,
	}, nil
}

func (r conversationRow) record() (domain.ConversationRecord, error) {
	rec := domain.ConversationRecord{
		ID:              r.ID,
		Title:           r.Title,
		Persona:         r.Persona,
		Emotion:         r.Emotion,
		Topic:           r.Topic,
		Tier:            domain.Tier(r.Tier),
		Status:          domain.Status(r.Status),
		QualityScore:    r.QualityScore,
		ConfidenceLevel: domain.ConfidenceLevel(r.ConfidenceLevel),
		TotalTurns:      r.TotalTurns,
		TotalTokens:     r.TotalTokens,
		CostUSD:         domain.USD(r.CostUSD),
		Model:           r.Model,
		TemplateID:      r.TemplateID,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal(r.QualityMetrics, &rec.QualityMetrics); err != nil {
		return rec, fmt.Errorf("unmarshal quality metrics for %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Parameters, &rec.Parameters); err != nil {
		return rec, fmt.Errorf("unmarshal parameters for %s: %w", r.ID, err)
	}
	if len(rec.Parameters) == 0 {
		rec.Parameters = nil
	}
	return rec, nil
}

const conversationColumns = `id, title, persona, emotion, topic, tier, status, quality_score,
	quality_metrics, confidence_level, total_turns, total_tokens, cost_usd, model,
	template_id, parameters, created_by, created_at, updated_at`

// SaveConversation inserts rec.
func (s *Store) SaveConversation(ctx context.Context, rec *domain.ConversationRecord) (string, error) {
	row, err := toConversationRow(rec)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (:id, :title, :persona, :emotion, :topic, :tier, :status, :quality_score,
			:quality_metrics, :confidence_level, :total_turns, :total_tokens, :cost_usd, :model,
			:template_id, :parameters, :created_by, :created_at, :updated_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return "", fmt.Errorf("failed to save conversation: %w", err)
	}
	return rec.ID, nil
}

type turnRow struct {
	ConversationID string `db:"conversation_id"`
	TurnNumber     int    `db:"turn_number"`
	Role           string `db:"role"`
	Content        string `db:"content"`
	TokenCount     int    `db:"token_count"`
}

// SaveTurns replaces the turns of conversation id in one transaction.
func (s *Store) SaveTurns(ctx context.Context, id string, turns []domain.Turn) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.exists(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conversation_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear turns: %w", err)
		}
		if len(turns) == 0 {
			return nil
		}

		rows := make([]turnRow, len(turns))
		for i, t := range turns {
			n := t.TurnNumber
			if n == 0 {
				n = i + 1
			}
			rows[i] = turnRow{
				ConversationID: id,
				TurnNumber:     n,
				Role:           string(t.Role),
				Content:        t.Content,
				TokenCount:     t.TokenCount,
			}
		}
		query := `
			INSERT INTO conversation_turns (conversation_id, turn_number, role, content, token_count)
			VALUES (:conversation_id, :turn_number, :role, :content, :token_count)
		`
		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return fmt.Errorf("failed to save turns: %w", err)
		}
		return nil
	})
}

type auditRow struct {
	ID             string          `db:"id"`
	ConversationID string          `db:"conversation_id"`
	Action         string          `db:"action"`
	PerformedBy    string          `db:"performed_by"`
	Comment        string          `db:"comment"`
	Reasons        []byte          `db:"reasons"`
	Score          sql.NullFloat64 `db:"score"`
	CreatedAt      time.Time       `db:"created_at"`
}

// UpdateStatus sets the status and appends entry in one transaction.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status, entry domain.AuditEntry) error {
	reasons := entry.Reasons
	if reasons == nil {
		reasons = []domain.FlagReason{}
	}
	reasonJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshal audit reasons: %w", err)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := auditRow{
		ID:             entry.ID,
		ConversationID: id,
		Action:         string(entry.Action),
		PerformedBy:    entry.PerformedBy,
		Comment:        entry.Comment,
		Reasons:        reasonJSON,
		CreatedAt:      ts,
	}
	if entry.Score != nil {
		row.Score = sql.NullFloat64{Float64: *entry.Score, Valid: true}
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), ts)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update status for %s: %w", id, domain.ErrNotFound)
		}

		query := `
			INSERT INTO conversation_audit (id, conversation_id, action, performed_by, comment, reasons, score, created_at)
			VALUES (:id, :conversation_id, :action, :performed_by, :comment, :reasons, :score, :created_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("failed to record audit entry: %w", err)
		}
		return nil
	})
}

// GetConversation loads one record.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetTurns loads the turns in order.
func (s *Store) GetTurns(ctx context.Context, id string) ([]domain.Turn, error) {
	if err := s.exists(ctx, s.db, id); err != nil {
		return nil, err
	}

	var rows []turnRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT conversation_id, turn_number, role, content, token_count
		FROM conversation_turns
		WHERE conversation_id = $1
		ORDER BY turn_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}

	turns := make([]domain.Turn, len(rows))
	for i, r := range rows {
		turns[i] = domain.Turn{
			Role:       domain.Role(r.Role),
			Content:    r.Content,
			TurnNumber: r.TurnNumber,
			TokenCount: r.TokenCount,
		}
	}
	return turns, nil
}

// ListConversations returns matches newest first.
func (s *Store) ListConversations(ctx context.Context, f storage.ConversationFilter) ([]domain.ConversationRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Tier != "" {
		args = append(args, string(f.Tier))
		where = append(where, fmt.Sprintf("tier = $%d", len(args)))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit(), max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]domain.ConversationRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AuditHistory returns status changes oldest first.
func (s *Store) AuditHistory(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	if err := s.exists(ctx, s.db, id); err != nil {
		return nil, err
	}

	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, conversation_id, action, performed_by, comment, reasons, score, created_at
		FROM conversation_audit
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit history: %w", err)
	}

	out := make([]domain.AuditEntry, len(rows))
	for i, r := range rows {
		e := domain.AuditEntry{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Action:         domain.AuditAction(r.Action),
			PerformedBy:    r.PerformedBy,
			Comment:        r.Comment,
			Timestamp:      r.CreatedAt,
		}
		if err := json.Unmarshal(r.Reasons, &e.Reasons); err != nil {
			return nil, fmt.Errorf("unmarshal audit reasons: %w", err)
		}
		if len(e.Reasons) == 0 {
			e.Reasons = nil
		}
		if r.Score.Valid {
			score := r.Score.Float64
			e.Score = &score
		}
		out[i] = e
	}
	return out, nil
}

// CountByStatus tallies conversations per status.
func (s *Store) CountByStatus(ctx context.Context) (storage.StatusCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM conversations GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	counts := make(storage.StatusCounts, len(rows))
	for _, r := range rows {
		counts[domain.Status(r.Status)] = r.Count
	}
	return counts, nil
}

type generationLogRow struct {
	ID             string         `db:"id"`
	ConversationID sql.NullString `db:"conversation_id"`
	TemplateID     string         `db:"template_id"`
	Model          string         `db:"model"`
	Status         string         `db:"status"`
	InputTokens    int            `db:"input_tokens"`
	OutputTokens   int            `db:"output_tokens"`
	CostUSD        float64        `db:"cost_usd"`
	DurationMS     int64          `db:"duration_ms"`
	ErrorMessage   string         `db:"error_message"`
	ErrorCode      string         `db:"error_code"`
	CreatedBy      string         `db:"created_by"`
	CreatedAt      time.Time      `db:"created_at"`
}

// LogGeneration inserts log. Failures are logged and dropped.
func (s *Store) LogGeneration(ctx context.Context, log domain.GenerationLog) {
	row := generationLogRow{
		ID:             log.ID,
		ConversationID: sql.NullString{String: log.ConversationID, Valid: log.ConversationID != ""},
		TemplateID:     log.TemplateID,
		Model:          log.Model,
		Status:         string(log.Status),
		InputTokens:    log.InputTokens,
		OutputTokens:   log.OutputTokens,
		CostUSD:        float64(log.CostUSD),
		DurationMS:     log.Duration.Milliseconds(),
		ErrorMessage:   log.ErrorMessage,
		ErrorCode:      log.ErrorCode,
		CreatedBy:      log.CreatedBy,
		CreatedAt:      log.CreatedAt,
	}
	query := `
		INSERT INTO generation_logs (id, conversation_id, template_id, model, status, input_tokens,
			output_tokens, cost_usd, duration_ms, error_message, error_code, created_by, created_at)
		VALUES (:id, :conversation_id, :template_id, :model, :status, :input_tokens,
			:output_tokens, :cost_usd, :duration_ms, :error_message, :error_code, :created_by, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		s.logger.WarnContext(ctx, "failed to record generation log",
			"log_id", log.ID,
			"status", log.Status,
			"error", err,
		)
	}
}

// GenerationLogs returns up to limit logs, newest first. A non-positive
// limit returns all of them.
func (s *Store) GenerationLogs(ctx context.Context, limit int) ([]domain.GenerationLog, error) {
	query := `
		SELECT id, conversation_id, template_id, model, status, input_tokens, output_tokens,
			cost_usd, duration_ms, error_message, error_code, created_by, created_at
		FROM generation_logs
		ORDER BY created_at DESC, id
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []generationLogRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list generation logs: %w", err)
	}

	out := make([]domain.GenerationLog, len(rows))
	for i, r := range rows {
		out[i] = domain.GenerationLog{
			ID:             r.ID,
			ConversationID: r.ConversationID.String,
			TemplateID:     r.TemplateID,
			Model:          r.Model,
			Status:         domain.GenerationStatus(r.Status),
			InputTokens:    r.InputTokens,
			OutputTokens:   r.OutputTokens,
			CostUSD:        domain.USD(r.CostUSD),
			Duration:       time.Duration(r.DurationMS) * time.Millisecond,
			ErrorMessage:   r.ErrorMessage,
			ErrorCode:      r.ErrorCode,
			CreatedBy:      r.CreatedBy,
			CreatedAt:      r.CreatedAt,
		}
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) exists(ctx context.Context, q sqlx.QueryerContext, id string) error {
	var found bool
	err := sqlx.GetContext(ctx, q, &found, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("failed to look up conversation: %w", err)
	}
	if !found {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
