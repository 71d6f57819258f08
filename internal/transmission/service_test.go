package transmission

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	emissionTime = time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	sender       = documents.Actor{UserID: "0190c7a2-1b2c-7d3e-9f40-a1b2c3d4e5f6", DisplayName: "Jean Dupont", Email: "jean@example.com"}
)

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return fmt.Sprintf("id-%06d", c.next), nil
}

type fixture struct {
	db           *gorm.DB
	documents    *documents.Service
	transmission *Service
}

func newFixture(t *testing.T, configure ...func(*ServiceConfig)) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "transmission.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(append(documents.Models(), Models()...)...))

	store, err := blobstore.NewFileStore(blobstore.FileStoreConfig{Root: t.TempDir(), SigningSecret: []byte("secret")})
	require.NoError(t, err)
	ids := &counterIDs{}
	clock := func() time.Time { return emissionTime }

	documentService, err := documents.NewService(documents.ServiceConfig{Database: db, Blobs: store, Clock: clock, IDProvider: ids})
	require.NoError(t, err)
	cfg := ServiceConfig{Database: db, Bundles: documentService, Clock: clock, IDProvider: ids}
	for _, apply := range configure {
		apply(&cfg)
	}
	transmissionService, err := NewService(cfg)
	require.NoError(t, err)
	return fixture{db: db, documents: documentService, transmission: transmissionService}
}

func (f fixture) documentWithRevision(t *testing.T, title string, input documents.AppendRevisionInput) (documents.Document, documents.Revision) {
	t.Helper()
	created, err := f.documents.CreateDocument(context.Background(), sender, documents.CreateDocumentInput{
		ProjectNumber: "HT001", DisciplineCode: "INS", Title: title,
	})
	require.NoError(t, err)
	input.DocumentID = created.Document.DocumentID
	revision, err := f.documents.AppendRevision(context.Background(), sender, input)
	require.NoError(t, err)
	return created.Document, revision
}

func TestCreateSnapshotsCurrentRevisionAndSignatures(t *testing.T) {
	f := newFixture(t)
	document, revision := f.documentWithRevision(t, "Loop diagram FT-001", documents.AppendRevisionInput{
		Label:        "A",
		Redacteur:    "Jean Dupont",
		Verificateur: "Marie Curie",
		File:         &documents.FileUpload{Name: "loop.pdf", Content: []byte("%PDF-1.4 ...")},
	})
	_, err := f.documents.Sign(context.Background(), sender, documents.SignInput{RevisionID: revision.RevisionID, Role: documents.RoleRedacteur})
	require.NoError(t, err)

	bordereau, err := f.transmission.Create(context.Background(), sender, CreateInput{
		DocumentIDs:   []string{document.DocumentID},
		RecipientName: "Bureau de controle",
		Note:          "Pour visa",
	})
	require.NoError(t, err)
	assert.Equal(t, "BT-2026-001", bordereau.Number)
	require.Len(t, bordereau.Lines, 1)

	line := bordereau.Lines[0]
	assert.Equal(t, "HT001-INS-0001", line.DocNumber)
	assert.Equal(t, "INS", line.DisciplineCode)
	assert.Equal(t, "A", line.Revision)
	assert.Equal(t, revision.FileHash, line.FileHash)
	require.NotNil(t, line.RedacteurSignedAtSeconds)
	assert.Equal(t, emissionTime.Unix(), *line.RedacteurSignedAtSeconds)
	require.NotNil(t, line.RedacteurSignerUserID)
	assert.Equal(t, sender.UserID, *line.RedacteurSignerUserID)
	assert.Nil(t, line.VerificateurSignedAtSeconds)
	assert.Nil(t, line.VerificateurSignerUserID)
	assert.Equal(t, "R:S V:P A:-", SignerSummary(line))
}

func TestSnapshotIsUnaffectedByLaterChanges(t *testing.T) {
	f := newFixture(t)
	document, revision := f.documentWithRevision(t, "Cable schedule", documents.AppendRevisionInput{
		Label: "0", Redacteur: "Jean Dupont", Verificateur: "Marie Curie",
	})
	created, err := f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{document.DocumentID}, RecipientName: "Client"})
	require.NoError(t, err)
	before, err := f.transmission.Get(context.Background(), created.BordereauID)
	require.NoError(t, err)

	_, err = f.documents.Sign(context.Background(), sender, documents.SignInput{RevisionID: revision.RevisionID, Role: documents.RoleVerificateur})
	require.NoError(t, err)
	_, err = f.documents.AppendRevision(context.Background(), sender, documents.AppendRevisionInput{
		DocumentID: document.DocumentID, Label: "A", Redacteur: "Paul Martin",
	})
	require.NoError(t, err)

	after, err := f.transmission.Get(context.Background(), created.BordereauID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "0", after.Lines[0].Revision)
	assert.Nil(t, after.Lines[0].VerificateurSignedAtSeconds)
}

func TestBordereauRowsRejectUpdatesAndDeletes(t *testing.T) {
	f := newFixture(t)
	document, _ := f.documentWithRevision(t, "Cable schedule", documents.AppendRevisionInput{Label: "0", Redacteur: "Jean Dupont"})
	created, err := f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{document.DocumentID}, RecipientName: "Client"})
	require.NoError(t, err)

	line := created.Lines[0]
	require.ErrorIs(t, f.db.Model(&line).Update("doc_title", "rewritten").Error, ErrSnapshotImmutable)
	require.ErrorIs(t, f.db.Delete(&line).Error, ErrSnapshotImmutable)
	header := created
	require.ErrorIs(t, f.db.Model(&header).Update("recipient_name", "Someone else").Error, ErrSnapshotImmutable)

	reloaded, err := f.transmission.Get(context.Background(), created.BordereauID)
	require.NoError(t, err)
	assert.Equal(t, "Cable schedule", reloaded.Lines[0].DocTitle)
	assert.Equal(t, "Client", reloaded.RecipientName)
}

func TestNumbersIncreaseAndPreviewMatches(t *testing.T) {
	f := newFixture(t)
	document, _ := f.documentWithRevision(t, "Cable schedule", documents.AppendRevisionInput{Label: "0", Redacteur: "Jean Dupont"})

	preview, err := f.transmission.NextBordereauNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BT-2026-001", preview)

	first, err := f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{document.DocumentID}, RecipientName: "Client"})
	require.NoError(t, err)
	second, err := f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{document.DocumentID}, RecipientName: "Client"})
	require.NoError(t, err)
	assert.Equal(t, preview, first.Number)
	assert.Equal(t, "BT-2026-002", second.Number)

	listed, err := f.transmission.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.BordereauID, listed[0].BordereauID)
}

func TestCreateRetriesNumberTakenDuringInsert(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder, err := metrics.New(registry)
	require.NoError(t, err)
	f := newFixture(t, func(cfg *ServiceConfig) { cfg.Metrics = recorder })
	document, _ := f.documentWithRevision(t, "Cable schedule", documents.AppendRevisionInput{Label: "0", Redacteur: "Jean Dupont"})

	// The first header insert finds BT-2026-001 stored by another writer in the meantime.
	var fired atomic.Bool
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:competing_bordereau", func(tx *gorm.DB) {
		if tx.Statement.Table != (Bordereau{}).TableName() || !fired.CompareAndSwap(false, true) {
			return
		}
		competing := Bordereau{
			BordereauID:      "competing-writer",
			Number:           FormatNumber(emissionTime.Year(), 1),
			Year:             emissionTime.Year(),
			Sequence:         1,
			EmittedAtSeconds: emissionTime.Unix(),
			SenderUserID:     "user-paul",
			RecipientName:    "Client",
		}
		assert.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Create(&competing).Error)
	}))

	created, err := f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{document.DocumentID}, RecipientName: "Client"})
	require.NoError(t, err)
	assert.True(t, fired.Load())
	assert.NotEqual(t, "competing-writer", created.BordereauID)
	assert.Equal(t, "BT-2026-001", created.Number)
	require.Len(t, created.Lines, 1)

	stored, err := f.transmission.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, created.BordereauID, stored[0].BordereauID)

	expected := `
# HELP kore_allocation_retries_total Number allocation retries after a uniqueness collision
# TYPE kore_allocation_retries_total counter
kore_allocation_retries_total{scope="bordereau_number"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "kore_allocation_retries_total"))
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	document, _ := f.documentWithRevision(t, "Cable schedule", documents.AppendRevisionInput{Label: "0", Redacteur: "Jean Dupont"})

	_, err := f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{document.DocumentID}})
	require.ErrorIs(t, err, documents.ErrMissingRequiredField)

	_, err = f.transmission.Create(context.Background(), sender, CreateInput{RecipientName: "Client"})
	require.ErrorIs(t, err, documents.ErrInvalidInput)

	_, err = f.transmission.Create(context.Background(), sender, CreateInput{
		DocumentIDs: []string{document.DocumentID, document.DocumentID}, RecipientName: "Client",
	})
	require.ErrorIs(t, err, documents.ErrInvalidInput)

	_, err = f.transmission.Create(context.Background(), sender, CreateInput{DocumentIDs: []string{"missing"}, RecipientName: "Client"})
	require.ErrorIs(t, err, documents.ErrNotFound)
}

func TestGetUnknownBordereau(t *testing.T) {
	f := newFixture(t)
	_, err := f.transmission.Get(context.Background(), "missing")
	require.ErrorIs(t, err, documents.ErrNotFound)
}
