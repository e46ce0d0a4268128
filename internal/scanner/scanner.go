// Package scanner ties barcode lookup, verdict analysis, chat and storage
// into the operations the server exposes.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckalain/foodguard/internal/database"
	"github.com/franckalain/foodguard/internal/lookup"
	"github.com/franckalain/foodguard/internal/models"
)

var (
	ErrEmptyQuestion = errors.New("question must not be empty")
	ErrEmptyProduct  = errors.New("product name must not be empty")
)

// Analyzer produces a verdict for a record.
type Analyzer interface {
	Analyze(ctx context.Context, record models.ProductRecord, prefs models.PreferenceProfile) models.Scan
}

// Conversation runs one chat turn.
type Conversation interface {
	Turn(ctx context.Context, session models.ConversationSession, scan models.Scan, prefs models.PreferenceProfile, question string) models.ConversationSession
}

// Service is the application layer. It holds no per-session locks; chat
// turns on the same scan must be serialized by the caller.
type Service struct {
	lookup       lookup.Client
	analyzer     Analyzer
	conversation Conversation
	db           database.DB
	logger       *zap.Logger
	now          func() time.Time
}

// New creates a service.
func New(client lookup.Client, analyzer Analyzer, conversation Conversation, db database.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		lookup:       client,
		analyzer:     analyzer,
		conversation: conversation,
		db:           db,
		logger:       logger.Named("scanner"),
		now:          time.Now,
	}
}

// Scan looks a barcode up, analyzes it against the stored preferences and
// persists the result together with an empty chat session.
func (s *Service) Scan(ctx context.Context, barcode string) (*models.Scan, error) {
	record, err := s.lookup.Lookup(ctx, barcode)
	if err != nil {
		return nil, err
	}
	return s.analyzeAndStore(ctx, record)
}

// Analyze runs the verdict engine on a caller-supplied record.
func (s *Service) Analyze(ctx context.Context, record models.ProductRecord) (*models.Scan, error) {
	if strings.TrimSpace(record.ProductName) == "" {
		return nil, ErrEmptyProduct
	}
	return s.analyzeAndStore(ctx, record.Normalized())
}

func (s *Service) analyzeAndStore(ctx context.Context, record models.ProductRecord) (*models.Scan, error) {
	prefs, err := s.db.GetPreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	scan := s.analyzer.Analyze(ctx, record, prefs)
	scan.ID = uuid.New().String()
	scan.CreatedAt = s.now()

	if err := s.db.SaveScan(ctx, &scan); err != nil {
		return nil, err
	}
	if err := s.db.SaveSession(ctx, models.ConversationSession{ScanID: scan.ID}); err != nil {
		return nil, err
	}

	s.logger.Info("scan stored",
		zap.String("id", scan.ID),
		zap.String("product", scan.ProductName),
		zap.String("status", string(scan.Verdict.Status)),
		zap.String("source", string(scan.Verdict.Source)))
	return &scan, nil
}

// Ask runs one chat turn about a stored scan and persists the session.
func (s *Service) Ask(ctx context.Context, scanID, question string) (models.ConversationSession, error) {
	if strings.TrimSpace(question) == "" {
		return models.ConversationSession{}, ErrEmptyQuestion
	}

	scan, err := s.db.GetScan(ctx, scanID)
	if err != nil {
		return models.ConversationSession{}, err
	}
	prefs, err := s.db.GetPreferences(ctx)
	if err != nil {
		return models.ConversationSession{}, fmt.Errorf("load preferences: %w", err)
	}
	session, err := s.db.GetSession(ctx, scanID)
	if err != nil {
		return models.ConversationSession{}, err
	}

	session = s.conversation.Turn(ctx, session, *scan, prefs, question)
	if err := s.db.SaveSession(ctx, session); err != nil {
		return models.ConversationSession{}, err
	}
	return session, nil
}

// Session returns the chat history of a scan.
func (s *Service) Session(ctx context.Context, scanID string) (models.ConversationSession, error) {
	if _, err := s.db.GetScan(ctx, scanID); err != nil {
		return models.ConversationSession{}, err
	}
	return s.db.GetSession(ctx, scanID)
}

// Get returns one stored scan.
func (s *Service) Get(ctx context.Context, scanID string) (*models.Scan, error) {
	return s.db.GetScan(ctx, scanID)
}

// History returns recent scans, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*models.Scan, error) {
	return s.db.GetRecentScans(ctx, limit)
}

// DeleteHistory removes scans and their chat sessions.
func (s *Service) DeleteHistory(ctx context.Context, ids []string) (int64, error) {
	return s.db.DeleteScans(ctx, ids)
}

// Preferences returns the stored profile.
func (s *Service) Preferences(ctx context.Context) (models.PreferenceProfile, error) {
	return s.db.GetPreferences(ctx)
}

// UpdatePreferences normalizes and stores the profile.
func (s *Service) UpdatePreferences(ctx context.Context, prefs models.PreferenceProfile) (models.PreferenceProfile, error) {
	prefs = prefs.Normalized()
	if err := s.db.SavePreferences(ctx, prefs); err != nil {
		return models.PreferenceProfile{}, err
	}
	return prefs, nil
}
