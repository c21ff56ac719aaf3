package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/chestscan/internal/classifier"
	"github.com/example/chestscan/internal/notify"
	"github.com/example/chestscan/internal/repository"
)

// memoryStore keeps records in memory and mirrors the repository's query
// semantics (owner scoping, descending order).
type memoryStore struct {
	preds   []*repository.Prediction
	saveErr error
}

func (m *memoryStore) Save(ctx context.Context, pred *repository.Prediction) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.preds = append(m.preds, pred)
	return nil
}

func (m *memoryStore) FindByRecordID(ctx context.Context, recordID string) (*repository.Prediction, error) {
	for _, p := range m.preds {
		if p.RecordID == recordID {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	for _, p := range m.preds {
		if p.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) CountByOwnerAndLabel(ctx context.Context, ownerID, label string) (int64, error) {
	var count int64
	for _, p := range m.preds {
		if p.OwnerID == ownerID && p.Label == label {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) RecentByOwner(ctx context.Context, ownerID string, limit int) ([]*repository.Prediction, error) {
	all, _ := m.AllByOwner(ctx, ownerID)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memoryStore) AllByOwner(ctx context.Context, ownerID string) ([]*repository.Prediction, error) {
	var preds []*repository.Prediction
	for _, p := range m.preds {
		if p.OwnerID == ownerID {
			preds = append(preds, p)
		}
	}
	sort.Slice(preds, func(i, j int) bool {
		return preds[i].CreatedAt.After(preds[j].CreatedAt)
	})
	return preds, nil
}

type stubAccounts struct {
	user *repository.User
	err  error
}

func (s *stubAccounts) FindUserByID(ctx context.Context, id string) (*repository.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

type stubImages struct {
	saved []string
	err   error
}

func (s *stubImages) Save(name string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, name)
	return name, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubClassifier struct {
	result *classifier.Result
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, imageBytes []byte) (*classifier.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubSender struct {
	sent []notify.Message
	err  error
}

func (s *stubSender) Send(ctx context.Context, msg notify.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newTestUseCase(store *memoryStore, accounts *stubAccounts, clf *stubClassifier, sender *stubSender, cache *stubCache) *PredictionUseCase {
	if cache == nil {
		cache = &stubCache{getErrs: []error{redis.Nil, redis.Nil, redis.Nil}}
	}
	return NewPredictionUseCase(store, accounts, &stubImages{}, cache, clf, sender, zap.NewNop())
}

func classified(probability float32) *stubClassifier {
	return &stubClassifier{result: &classifier.Result{
		Label:       classifier.LabelFor(probability),
		Probability: probability,
	}}
}

func TestSubmitCreatesExactlyOneConsistentRecord(t *testing.T) {
	store := &memoryStore{}
	uc := newTestUseCase(store, &stubAccounts{user: &repository.User{Username: "alice"}}, classified(0.7), &stubSender{}, nil)

	pred, err := uc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:     "xray.png",
		ImageBytes:   []byte("image"),
		PatientName:  "Bob",
		PatientEmail: "bob@example.com",
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if len(store.preds) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(store.preds))
	}
	if pred.Label != classifier.LabelNormal {
		t.Fatalf("expected Normal for p=0.7, got %s", pred.Label)
	}
	if got := classifier.LabelFor(pred.Probability); got != pred.Label {
		t.Fatalf("label %s disagrees with probability %v", pred.Label, pred.Probability)
	}
	if pred.OwnerID != "user-1" {
		t.Fatalf("unexpected owner: %s", pred.OwnerID)
	}
}

func TestSubmitDefaultsPatientFieldsFromOwner(t *testing.T) {
	store := &memoryStore{}
	owner := &repository.User{ID: "user-1", Username: "alice", FullName: "", Email: "a@b.com"}
	uc := newTestUseCase(store, &stubAccounts{user: owner}, classified(0.3), &stubSender{}, nil)

	pred, err := uc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:   "xray.png",
		ImageBytes: []byte("image"),
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if pred.PatientName != "alice" {
		t.Fatalf("expected patient name defaulted to username, got %q", pred.PatientName)
	}
	if pred.PatientEmail != "a@b.com" {
		t.Fatalf("expected patient email defaulted to owner email, got %q", pred.PatientEmail)
	}
}

func TestSubmitSwallowsNotificationFailure(t *testing.T) {
	store := &memoryStore{}
	sender := &stubSender{err: errors.New("smtp down")}
	uc := newTestUseCase(store, &stubAccounts{user: &repository.User{Email: "a@b.com", Username: "alice"}}, classified(0.9), sender, nil)

	pred, err := uc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:     "xray.png",
		ImageBytes:   []byte("image"),
		PatientEmail: "p@q.org",
	})
	if err != nil {
		t.Fatalf("notification failure must not fail the request: %v", err)
	}
	if len(store.preds) != 1 {
		t.Fatalf("expected record to be persisted, got %d", len(store.preds))
	}
	if pred == nil {
		t.Fatal("expected a record back")
	}
}

func TestSubmitInvalidImageCreatesNoRecord(t *testing.T) {
	store := &memoryStore{}
	clf := &stubClassifier{err: classifier.ErrInvalidImage}
	uc := newTestUseCase(store, &stubAccounts{user: &repository.User{}}, clf, &stubSender{}, nil)

	_, err := uc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:   "not-an-image.txt",
		ImageBytes: []byte("plain text"),
	})
	if !errors.Is(err, classifier.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if len(store.preds) != 0 {
		t.Fatalf("expected zero records, got %d", len(store.preds))
	}
}

func TestSubmitPersistenceFailureAbortsRequest(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("db down")}
	sender := &stubSender{}
	uc := newTestUseCase(store, &stubAccounts{user: &repository.User{}}, classified(0.9), sender, nil)

	_, err := uc.Submit(context.Background(), "user-1", SubmitRequest{
		FileName:     "xray.png",
		ImageBytes:   []byte("image"),
		PatientEmail: "p@q.org",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no notification may be sent when persistence fails, got %d", len(sender.sent))
	}
}

func TestGetRecordEnforcesOwnership(t *testing.T) {
	store := &memoryStore{preds: []*repository.Prediction{{RecordID: "rec-1", OwnerID: "user-1"}}}
	cache := &stubCache{getErrs: []error{redis.Nil, redis.Nil, redis.Nil}}
	uc := newTestUseCase(store, &stubAccounts{}, classified(0.9), &stubSender{}, cache)

	if _, err := uc.GetRecord(context.Background(), "user-2", false, "rec-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
	}

	cache.getErrs = []error{redis.Nil}
	if _, err := uc.GetRecord(context.Background(), "user-2", true, "rec-1"); err != nil {
		t.Fatalf("staff must be allowed, got %v", err)
	}

	cache.getErrs = []error{redis.Nil}
	if _, err := uc.GetRecord(context.Background(), "user-1", false, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRecordServesFromCache(t *testing.T) {
	cached, err := json.Marshal(cachedPrediction{
		RecordID:    "rec-1",
		OwnerID:     "user-1",
		Label:       classifier.LabelPneumonia,
		Probability: 0.2,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to marshal fixture: %v", err)
	}

	store := &memoryStore{}
	cache := &stubCache{getValues: []string{string(cached)}}
	uc := newTestUseCase(store, &stubAccounts{}, classified(0.9), &stubSender{}, cache)

	pred, err := uc.GetRecord(context.Background(), "user-1", false, "rec-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if pred.Label != classifier.LabelPneumonia {
		t.Fatalf("unexpected label from cache: %s", pred.Label)
	}
}

func TestDashboardCountsAreAdditiveAndRecentIsScoped(t *testing.T) {
	store := &memoryStore{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		label := classifier.LabelNormal
		if i%2 == 0 {
			label = classifier.LabelPneumonia
		}
		store.preds = append(store.preds, &repository.Prediction{
			RecordID:  "a-" + string(rune('0'+i)),
			OwnerID:   "owner-a",
			Label:     label,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	store.preds = append(store.preds, &repository.Prediction{
		RecordID:  "b-0",
		OwnerID:   "owner-b",
		Label:     classifier.LabelNormal,
		CreatedAt: base.Add(time.Hour),
	})

	uc := newTestUseCase(store, &stubAccounts{}, classified(0.9), &stubSender{}, nil)
	summary, err := uc.Dashboard(context.Background(), "owner-a")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if summary.Total != summary.Normal+summary.Pneumonia {
		t.Fatalf("counts not additive: total=%d normal=%d pneumonia=%d",
			summary.Total, summary.Normal, summary.Pneumonia)
	}
	if summary.Total != 5 {
		t.Fatalf("expected 5 records for owner-a, got %d", summary.Total)
	}
	for i, pred := range summary.Recent {
		if pred.OwnerID != "owner-a" {
			t.Fatalf("recent leaked another owner's record: %s", pred.RecordID)
		}
		if i > 0 && summary.Recent[i-1].CreatedAt.Before(pred.CreatedAt) {
			t.Fatalf("recent not sorted newest first at index %d", i)
		}
	}
}
