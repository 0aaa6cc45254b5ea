package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
)

type fakeStore struct {
	job     *storage.TrainingJob
	dataset storage.Dataset
	err     error
}

func (f *fakeStore) LatestCompletedJob(workspaceID string) (storage.TrainingJob, error) {
	if f.err != nil {
		return storage.TrainingJob{}, f.err
	}
	if f.job == nil || f.job.WorkspaceID != workspaceID {
		return storage.TrainingJob{}, storage.ErrNotFound
	}
	return *f.job, nil
}

func (f *fakeStore) GetDataset(id string) (storage.Dataset, error) {
	if id != f.dataset.ID {
		return storage.Dataset{}, storage.ErrNotFound
	}
	return f.dataset, nil
}

type fakeParser struct {
	parse trainer.Parse
	err   error
	delay time.Duration
	calls int
}

func (f *fakeParser) Parse(ctx context.Context, modelPath, text string) (trainer.Parse, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return trainer.Parse{}, ctx.Err()
		}
	}
	return f.parse, f.err
}

func trainedStore() *fakeStore {
	return &fakeStore{
		job: &storage.TrainingJob{ID: "tj1", WorkspaceID: "ws1", DatasetID: "ds1", Status: storage.JobCompleted, ModelPath: "model-x"},
		dataset: storage.Dataset{
			ID:         "ds1",
			CorpusJSON: `{"examples":[{"text":"hi","intent":"greet"}],"responses":{"greet":"Hey! Welcome to the shop."}}`,
		},
	}
}

func newService(store Store, parser Parser, opts ...Option) *Service {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(store, parser, intent.NewEngine(), opts...)
}

func TestReply_TrainedModel(t *testing.T) {
	p := &fakeParser{parse: trainer.Parse{
		Intent:   trainer.ParsedIntent{Name: "greet", Confidence: 0.97},
		Entities: []trainer.ParsedEntity{{Entity: "product", Value: "shoes", Start: 9, End: 14}},
	}}
	svc := newService(trainedStore(), p)

	resp, err := svc.Reply(context.Background(), "ws1", "hi, need shoes")
	require.NoError(t, err)

	assert.True(t, resp.ModelUsed)
	assert.Equal(t, "model-x", resp.ModelPath)
	assert.Equal(t, "greet", resp.Intent)
	assert.Equal(t, 0.97, resp.Confidence)
	assert.Equal(t, "Hey! Welcome to the shop.\n\nDetected entities:\n• product: \"shoes\"", resp.Text)
	assert.Equal(t, map[string]string{"product": "shoes"}, resp.Slots)
	assert.Empty(t, resp.Items)
}

func TestReply_UnknownIntentResponse(t *testing.T) {
	p := &fakeParser{parse: trainer.Parse{Intent: trainer.ParsedIntent{Name: "goodbye", Confidence: 0.6}}}
	resp, err := newService(trainedStore(), p).Reply(context.Background(), "ws1", "bye")
	require.NoError(t, err)
	assert.True(t, resp.ModelUsed)
	assert.Equal(t, "I detected the intent 'goodbye' but no response was defined in the training data.", resp.Text)
}

func TestReply_FallbackWithoutModel(t *testing.T) {
	p := &fakeParser{}
	resp, err := newService(trainedStore(), p).Reply(context.Background(), "ws2", "I'm tired, show me cozy clothes")
	require.NoError(t, err)

	assert.False(t, resp.ModelUsed)
	assert.Zero(t, p.calls)
	assert.Equal(t, intent.MoodIntent("tired"), resp.Intent)
	assert.NotEmpty(t, resp.Items)
}

func TestReply_FallbackOnTransportError(t *testing.T) {
	p := &fakeParser{err: errors.New("connection refused")}
	resp, err := newService(trainedStore(), p).Reply(context.Background(), "ws1", "track my order")
	require.NoError(t, err)

	assert.False(t, resp.ModelUsed)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, intent.IntentTrackOrder, resp.Intent)
}

func TestReply_FallbackOnTimeout(t *testing.T) {
	p := &fakeParser{delay: time.Second}
	start := time.Now()
	resp, err := newService(trainedStore(), p, WithTimeout(20*time.Millisecond)).Reply(context.Background(), "ws1", "hello")
	require.NoError(t, err)

	assert.False(t, resp.ModelUsed)
	assert.Equal(t, intent.IntentGreet, resp.Intent)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReply_FallbackOnStoreError(t *testing.T) {
	p := &fakeParser{}
	resp, err := newService(&fakeStore{err: errors.New("disk I/O error")}, p).Reply(context.Background(), "ws1", "hello")
	require.NoError(t, err)
	assert.False(t, resp.ModelUsed)
	assert.Zero(t, p.calls)
}

func TestReply_NoParser(t *testing.T) {
	resp, err := newService(trainedStore(), nil).Reply(context.Background(), "ws1", "hello")
	require.NoError(t, err)
	assert.False(t, resp.ModelUsed)
}

func TestReply_EmptyMessage(t *testing.T) {
	_, err := newService(trainedStore(), nil).Reply(context.Background(), "ws1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
