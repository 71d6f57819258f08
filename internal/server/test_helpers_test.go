package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/database"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/integrity"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var testSigningSecret = []byte("test-signing-secret")

type serverFixture struct {
	server   *httptest.Server
	issuer   *auth.TokenIssuer
	realtime *RealtimeDispatcher
}

func newServerFixture(t *testing.T) serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "kore.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: testSigningSecret,
		CookieName:    "app_session",
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: testSigningSecret, TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	blobs, err := blobstore.NewFileStore(blobstore.FileStoreConfig{Root: t.TempDir(), SigningSecret: testSigningSecret})
	if err != nil {
		t.Fatalf("failed to construct blob store: %v", err)
	}
	registry := prometheus.NewRegistry()
	serviceMetrics, err := metrics.New(registry)
	if err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}
	realtime := NewRealtimeDispatcher()

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Blobs:      blobs,
		IDProvider: documents.NewUUIDProvider(),
		Metrics:    serviceMetrics,
		Notifier:   realtime,
		Directory:  userService,
	})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}
	exporter, err := integrity.NewExporter(integrity.ExporterConfig{
		Bundles:     documentService,
		Blobs:       blobs,
		FetchPolicy: blobstore.FetchPolicy{MaxAttempts: 1},
		Metrics:     serviceMetrics,
	})
	if err != nil {
		t.Fatalf("failed to construct exporter: %v", err)
	}
	transmissionService, err := transmission.NewService(transmission.ServiceConfig{
		Database:   db,
		Bundles:    documentService,
		IDProvider: documents.NewUUIDProvider(),
		Metrics:    serviceMetrics,
	})
	if err != nil {
		t.Fatalf("failed to construct transmission service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Profiles:         userService,
		Documents:        documentService,
		Exporter:         exporter,
		Transmission:     transmissionService,
		Blobs:            blobs,
		SignedBlobs:      blobs,
		MetricsHandler:   metrics.Handler(registry),
		Realtime:         realtime,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return serverFixture{server: server, issuer: issuer, realtime: realtime}
}

func (f serverFixture) mustToken(t *testing.T, userID, displayName string) string {
	t.Helper()
	token, _, err := f.issuer.Issue(auth.SessionSubject{UserID: userID, DisplayName: displayName, Email: userID + "@example.com"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f serverFixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	request, err := http.NewRequest(method, f.server.URL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	return response
}

func (f serverFixture) doJSON(t *testing.T, method, path, token string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	return f.do(t, method, path, token, body, "application/json")
}

func (f serverFixture) appendRevision(t *testing.T, token, documentID string, fields map[string]string, fileName string, content []byte) *http.Response {
	t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return f.do(t, http.MethodPost, "/documents/"+documentID+"/revisions", token, &buffer, writer.FormDataContentType())
}

func (f serverFixture) mustCreateDocument(t *testing.T, token, title string) documentPayload {
	t.Helper()
	response := f.doJSON(t, http.MethodPost, "/documents", token, map[string]interface{}{
		"project_number":  "HT001",
		"discipline_code": "INS",
		"title":           title,
	})
	expectStatus(t, response, http.StatusCreated)
	var created createDocumentResponse
	decodeJSON(t, response, &created)
	return created.Document
}

func expectStatus(t *testing.T, response *http.Response, want int) {
	t.Helper()
	if response.StatusCode != want {
		body, _ := io.ReadAll(response.Body)
		t.Fatalf("unexpected status for %s %s: got %d want %d (%s)",
			response.Request.Method, response.Request.URL.Path, response.StatusCode, want, body)
	}
}

func decodeJSON(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func readBody(t *testing.T, response *http.Response) []byte {
	t.Helper()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return body
}

func samplePDF(t *testing.T) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()
	pdf.Text(72, 72, "Loop diagram")
	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		t.Fatalf("failed to render sample pdf: %v", err)
	}
	return buffer.Bytes()
}
