package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/franckalain/foodguard/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a scan does not exist.
var ErrNotFound = errors.New("not found")

// DefaultHistoryLimit bounds GetRecentScans when no limit is given.
const DefaultHistoryLimit = 50

// fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB interface defines the methods our database should implement
type DB interface {
	SaveScan(ctx context.Context, scan *models.Scan) error
	GetScan(ctx context.Context, id string) (*models.Scan, error)
	GetRecentScans(ctx context.Context, limit int) ([]*models.Scan, error)
	DeleteScans(ctx context.Context, ids []string) (int64, error)
	SaveSession(ctx context.Context, session models.ConversationSession) error
	GetSession(ctx context.Context, scanID string) (models.ConversationSession, error)
	SavePreferences(ctx context.Context, prefs models.PreferenceProfile) error
	GetPreferences(ctx context.Context) (models.PreferenceProfile, error)
	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteDB opens or creates the database at dbPath and applies the schema.
func NewSQLiteDB(dbPath string, logger *zap.Logger) (*SQLiteDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}
	logger.Info("database ready", zap.String("path", dbPath))

	return &SQLiteDB{
		db:      db,
		logger:  logger,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

func (s *SQLiteDB) newMessageID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// SaveScan inserts or updates a scan. An update keeps the scan's messages.
func (s *SQLiteDB) SaveScan(ctx context.Context, scan *models.Scan) error {
	if scan.ID == "" {
		return errors.New("scan id is required")
	}
	query := `
		INSERT INTO scans (
			id, barcode, product_name, ingredient_text, missing_ingredients,
			image_uri, nutrition_image_uri, strategy, status, reason, details,
			resolved_ingredient, health_score, harmful_ingredients, source,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			barcode = excluded.barcode,
			product_name = excluded.product_name,
			ingredient_text = excluded.ingredient_text,
			missing_ingredients = excluded.missing_ingredients,
			image_uri = excluded.image_uri,
			nutrition_image_uri = excluded.nutrition_image_uri,
			strategy = excluded.strategy,
			status = excluded.status,
			reason = excluded.reason,
			details = excluded.details,
			resolved_ingredient = excluded.resolved_ingredient,
			health_score = excluded.health_score,
			harmful_ingredients = excluded.harmful_ingredients,
			source = excluded.source,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = now
	}
	v := scan.Verdict

	_, err := s.db.ExecContext(ctx, query,
		scan.ID, scan.Barcode, scan.ProductName, scan.IngredientText, scan.MissingIngredients,
		scan.ImageURI, scan.NutritionImageURI, scan.Strategy, string(v.Status), v.Reason, v.Details,
		v.ResolvedIngredient, v.HealthScore, v.HarmfulIngredients, string(v.Source),
		formatTime(scan.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("save scan %s: %w", scan.ID, err)
	}
	return nil
}

const scanColumns = `
	id, barcode, product_name, ingredient_text, missing_ingredients,
	image_uri, nutrition_image_uri, strategy, status, reason, details,
	resolved_ingredient, health_score, harmful_ingredients, source, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*models.Scan, error) {
	var (
		sc        models.Scan
		status    string
		source    string
		createdAt string
	)
	err := row.Scan(
		&sc.ID, &sc.Barcode, &sc.ProductName, &sc.IngredientText, &sc.MissingIngredients,
		&sc.ImageURI, &sc.NutritionImageURI, &sc.Strategy, &status, &sc.Verdict.Reason, &sc.Verdict.Details,
		&sc.Verdict.ResolvedIngredient, &sc.Verdict.HealthScore, &sc.Verdict.HarmfulIngredients, &source, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	sc.Verdict.Status = models.Status(status)
	sc.Verdict.Source = models.Source(source)
	sc.CreatedAt = parseTime(createdAt)
	return &sc, nil
}

// GetScan returns ErrNotFound when no scan has the id.
func (s *SQLiteDB) GetScan(ctx context.Context, id string) (*models.Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	sc, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	return sc, nil
}

// GetRecentScans returns scans newest first.
func (s *SQLiteDB) GetRecentScans(ctx context.Context, limit int) ([]*models.Scan, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	results := make([]*models.Scan, 0, limit)
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list scans: %w", err)
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// DeleteScans removes scans and, through the foreign key, their messages.
// It returns how many scans were deleted.
func (s *SQLiteDB) DeleteScans(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete scans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete scans: %w", err)
	}
	s.logger.Info("deleted scans", zap.Int64("count", n))
	return n, nil
}

// SaveSession replaces the stored messages of a scan with the session's
// messages in one transaction.
func (s *SQLiteDB) SaveSession(ctx context.Context, session models.ConversationSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM scans WHERE id = ?`, session.ScanID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE scan_id = ?`, session.ScanID); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, scan_id, position, sender, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer stmt.Close()

	for i, m := range session.Messages {
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			s.newMessageID(created), session.ScanID, i, string(m.Sender), m.Text, formatTime(created),
		); err != nil {
			return fmt.Errorf("save session message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns the messages for a scan in order. A scan without
// messages yields an empty session.
func (s *SQLiteDB) GetSession(ctx context.Context, scanID string) (models.ConversationSession, error) {
	session := models.ConversationSession{ScanID: scanID, Messages: []models.ConversationMessage{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, text, created_at FROM messages WHERE scan_id = ? ORDER BY position`, scanID)
	if err != nil {
		return session, fmt.Errorf("get session %s: %w", scanID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         models.ConversationMessage
			sender    string
			createdAt string
		)
		if err := rows.Scan(&sender, &m.Text, &createdAt); err != nil {
			return session, fmt.Errorf("get session %s: %w", scanID, err)
		}
		m.Sender = models.Sender(sender)
		m.CreatedAt = parseTime(createdAt)
		session.Messages = append(session.Messages, m)
	}
	return session, rows.Err()
}

// SavePreferences stores the single user profile.
func (s *SQLiteDB) SavePreferences(ctx context.Context, prefs models.PreferenceProfile) error {
	prefs = prefs.Normalized()
	diets, err := json.Marshal(prefs.Diets)
	if err != nil {
		return fmt.Errorf("encode diets: %w", err)
	}
	allergies, err := json.Marshal(prefs.Allergies)
	if err != nil {
		return fmt.Errorf("encode allergies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (id, diets, allergies, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			diets = excluded.diets,
			allergies = excluded.allergies,
			updated_at = excluded.updated_at
	`, string(diets), string(allergies), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// GetPreferences returns the stored profile, or an empty one.
func (s *SQLiteDB) GetPreferences(ctx context.Context) (models.PreferenceProfile, error) {
	prefs := models.PreferenceProfile{Diets: []string{}, Allergies: []string{}}

	var diets, allergies string
	err := s.db.QueryRowContext(ctx, `SELECT diets, allergies FROM preferences WHERE id = 1`).Scan(&diets, &allergies)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("get preferences: %w", err)
	}

	if err := json.Unmarshal([]byte(diets), &prefs.Diets); err != nil {
		return prefs, fmt.Errorf("decode diets: %w", err)
	}
	if err := json.Unmarshal([]byte(allergies), &prefs.Allergies); err != nil {
		return prefs, fmt.Errorf("decode allergies: %w", err)
	}
	return prefs, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
