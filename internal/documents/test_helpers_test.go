package documents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", p.next), nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notifications...)
}

type staticDirectory map[string]string

func (d staticDirectory) ResolveUserByDisplayName(_ context.Context, displayName string) (string, bool, error) {
	userID, ok := d[strings.ToLower(displayName)]
	return userID, ok, nil
}

type failingBlobStore struct{}

func (failingBlobStore) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func (failingBlobStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("bucket unavailable")
}

func (failingBlobStore) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("bucket unavailable")
}

type testFixture struct {
	service  *Service
	db       *gorm.DB
	blobs    *blobstore.FileStore
	notifier *recordingNotifier
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "documents.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestFixture(t *testing.T, configure ...func(*ServiceConfig)) testFixture {
	t.Helper()
	db := openTestDatabase(t)
	blobs, err := blobstore.NewFileStore(blobstore.FileStoreConfig{
		Root:          t.TempDir(),
		SigningSecret: []byte("test-secret"),
	})
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	notifier := &recordingNotifier{}
	cfg := ServiceConfig{
		Database:   db,
		Blobs:      blobs,
		Clock:      func() time.Time { return time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC) },
		IDProvider: &sequentialIDProvider{},
		Logger:     zap.NewNop(),
		Notifier:   notifier,
		Directory: staticDirectory{
			"jean dupont": "user-jean",
			"marie curie": "user-marie",
			"paul martin": "user-paul",
		},
	}
	for _, apply := range configure {
		apply(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return testFixture{service: service, db: db, blobs: blobs, notifier: notifier}
}

var testActor = Actor{UserID: "0190c7a2-1b2c-7d3e-9f40-a1b2c3d4e5f6", DisplayName: "Jean Dupont", Email: "jean@example.com"}

func mustCreateDocument(t *testing.T, service *Service, input CreateDocumentInput) Document {
	t.Helper()
	result, err := service.CreateDocument(context.Background(), testActor, input)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return result.Document
}

func mustAppendRevision(t *testing.T, service *Service, input AppendRevisionInput) Revision {
	t.Helper()
	revision, err := service.AppendRevision(context.Background(), testActor, input)
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	return revision
}

// insertBeforeFirstCreate stores the row built by competing through the running transaction
// just before the first insert into table, as a concurrent writer winning the same key would.
func insertBeforeFirstCreate(t *testing.T, db *gorm.DB, table string, competing func() any) {
	t.Helper()
	var fired atomic.Bool
	err := db.Callback().Create().Before("gorm:create").Register("test:competing_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table || !fired.CompareAndSwap(false, true) {
			return
		}
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(competing()).Error; err != nil {
			t.Errorf("failed to insert competing row: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("failed to register create callback: %v", err)
	}
}
