// Package chat answers chat messages with the workspace's latest trained
// model and falls back to the rule-based intent engine when no model can
// answer in time.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/normalize"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
)

const defaultTimeout = 3 * time.Second

// ErrEmptyMessage is returned for a blank message.
var ErrEmptyMessage = errors.New("message is empty")

// Store abstracts the registry reads used to find a workspace's model.
type Store interface {
	LatestCompletedJob(workspaceID string) (storage.TrainingJob, error)
	GetDataset(id string) (storage.Dataset, error)
}

// Parser runs inference against a trained model.
type Parser interface {
	Parse(ctx context.Context, modelPath, text string) (trainer.Parse, error)
}

// Response is the answer to one chat message.
type Response struct {
	Text       string                 `json:"text"`
	Items      []intent.Item          `json:"items"`
	Intent     string                 `json:"intent"`
	Confidence float64                `json:"confidence,omitempty"`
	Slots      map[string]string      `json:"slots"`
	Entities   []trainer.ParsedEntity `json:"entities,omitempty"`
	ModelUsed  bool                   `json:"model_used"`
	ModelPath  string                 `json:"model_path,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds a single inference call. Defaults to 3s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service answers chat messages.
type Service struct {
	store   Store
	parser  Parser
	engine  *intent.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Service. parser may be nil when no trainer is configured, in
// which case every reply comes from engine.
func New(store Store, parser Parser, engine *intent.Engine, opts ...Option) *Service {
	s := &Service{
		store:   store,
		parser:  parser,
		engine:  engine,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reply answers message for the workspace. It only fails for a blank message.
func (s *Service) Reply(ctx context.Context, workspaceID, message string) (Response, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Response{}, ErrEmptyMessage
	}

	if resp, ok := s.fromModel(ctx, workspaceID, message); ok {
		return resp, nil
	}

	r := s.engine.Respond(message)
	return Response{
		Text:   r.Text,
		Items:  r.Items,
		Intent: r.Intent,
		Slots:  r.Slots,
	}, nil
}

func (s *Service) fromModel(ctx context.Context, workspaceID, message string) (Response, bool) {
	if s.parser == nil {
		return Response{}, false
	}

	job, err := s.store.LatestCompletedJob(workspaceID)
	if errors.Is(err, storage.ErrNotFound) {
		return Response{}, false
	}
	if err != nil {
		s.logger.Warn("looking up trained model", "workspace_id", workspaceID, "error", err)
		return Response{}, false
	}

	responses, err := s.responses(job.DatasetID)
	if err != nil {
		s.logger.Warn("loading trained responses", "dataset_id", job.DatasetID, "error", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	p, err := s.parser.Parse(pctx, job.ModelPath, message)
	if err != nil {
		s.logger.Warn("model inference failed, using fallback", "model_path", job.ModelPath, "error", err)
		return Response{}, false
	}

	text, ok := responses[p.Intent.Name]
	if !ok {
		text = fmt.Sprintf("I detected the intent '%s' but no response was defined in the training data.", p.Intent.Name)
	}
	slots := make(map[string]string, len(p.Entities))
	if len(p.Entities) > 0 {
		var sb strings.Builder
		sb.WriteString(text)
		sb.WriteString("\n\nDetected entities:")
		for _, e := range p.Entities {
			fmt.Fprintf(&sb, "\n• %s: %q", e.Entity, e.Value)
			if _, seen := slots[e.Entity]; !seen {
				slots[e.Entity] = e.Value
			}
		}
		text = sb.String()
	}

	return Response{
		Text:       text,
		Items:      []intent.Item{},
		Intent:     p.Intent.Name,
		Confidence: p.Intent.Confidence,
		Slots:      slots,
		Entities:   p.Entities,
		ModelUsed:  true,
		ModelPath:  job.ModelPath,
	}, true
}

func (s *Service) responses(datasetID string) (map[string]string, error) {
	ds, err := s.store.GetDataset(datasetID)
	if err != nil {
		return nil, err
	}
	if ds.CorpusJSON == "" {
		return nil, nil
	}
	var c normalize.Corpus
	if err := json.Unmarshal([]byte(ds.CorpusJSON), &c); err != nil {
		return nil, fmt.Errorf("decoding corpus: %w", err)
	}
	return c.Responses, nil
}
