package server_test

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
	"github.com/MarcoPoloResearchLab/kore/backend/internal/server"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	jsonContentType      = "application/json"
)

type flowSession struct {
	serverURL string
	cookie    *http.Cookie
}

func TestDocumentLifecycleFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "integration.db"),
	}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to create session validator: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to create user service: %v", err)
	}
	blobs, err := blobstore.NewFileStore(blobstore.FileStoreConfig{
		Root:          testContext.TempDir(),
		SigningSecret: []byte(sessionSigningSecret),
	})
	if err != nil {
		testContext.Fatalf("failed to create blob store: %v", err)
	}
	realtime := server.NewRealtimeDispatcher()
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Blobs:      blobs,
		IDProvider: documents.NewUUIDProvider(),
		Notifier:   realtime,
		Directory:  userService,
	})
	if err != nil {
		testContext.Fatalf("failed to create documents service: %v", err)
	}
	exporter, err := integrity.NewExporter(integrity.ExporterConfig{
		Bundles:     documentService,
		Blobs:       blobs,
		FetchPolicy: blobstore.FetchPolicy{MaxAttempts: 1},
	})
	if err != nil {
		testContext.Fatalf("failed to create exporter: %v", err)
	}
	transmissionService, err := transmission.NewService(transmission.ServiceConfig{
		Database:   db,
		Bundles:    documentService,
		IDProvider: documents.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to create transmission service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Profiles:         userService,
		Documents:        documentService,
		Exporter:         exporter,
		Transmission:     transmissionService,
		Blobs:            blobs,
		SignedBlobs:      blobs,
		Realtime:         realtime,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	jean := flowSession{serverURL: testServer.URL, cookie: &http.Cookie{
		Name:  sessionCookieName,
		Value: mustMintSessionToken(testContext, "user-jean", "Jean Dupont", time.Now()),
	}}
	marie := flowSession{serverURL: testServer.URL, cookie: &http.Cookie{
		Name:  sessionCookieName,
		Value: mustMintSessionToken(testContext, "user-marie", "Marie Curie", time.Now()),
	}}

	// Marie must be known before Jean plans her as verificateur.
	var empty struct {
		Documents []map[string]any `json:"documents"`
	}
	marie.mustDecode(testContext, marie.send(testContext, http.MethodGet, "/documents", nil, ""), http.StatusOK, &empty)
	if len(empty.Documents) != 0 {
		testContext.Fatalf("expected no documents yet, got %d", len(empty.Documents))
	}

	createBody, _ := json.Marshal(map[string]any{
		"project_number":  "HT6012",
		"emitter_code":    "ART",
		"unit_code":       "010",
		"discipline_code": "INS",
		"title":           "Schéma de boucle chaudière",
	})
	var created struct {
		Document struct {
			DocumentID string `json:"document_id"`
			DocNumber  string `json:"doc_number"`
		} `json:"document"`
	}
	jean.mustDecode(testContext, jean.send(testContext, http.MethodPost, "/documents", bytes.NewReader(createBody), jsonContentType), http.StatusCreated, &created)
	if created.Document.DocNumber != "HT6012-010-INS-0001" {
		testContext.Fatalf("unexpected document number %s", created.Document.DocNumber)
	}

	var multipartBody bytes.Buffer
	writer := multipart.NewWriter(&multipartBody)
	for key, value := range map[string]string{
		"revision":     "0",
		"status":       "for_review",
		"redacteur":    "Jean Dupont",
		"verificateur": "Marie Curie",
	} {
		if err := writer.WriteField(key, value); err != nil {
			testContext.Fatalf("failed to write field: %v", err)
		}
	}
	filePart, err := writer.CreateFormFile("file", "boucle.pdf")
	if err != nil {
		testContext.Fatalf("failed to create file part: %v", err)
	}
	if _, err := filePart.Write(mustRenderPDF(testContext)); err != nil {
		testContext.Fatalf("failed to write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		testContext.Fatalf("failed to close multipart writer: %v", err)
	}
	var revision struct {
		RevisionID string `json:"revision_id"`
		FileHash   string `json:"file_hash"`
	}
	jean.mustDecode(testContext, jean.send(testContext, http.MethodPost, "/documents/"+created.Document.DocumentID+"/revisions", &multipartBody, writer.FormDataContentType()), http.StatusCreated, &revision)
	if revision.FileHash == "" {
		testContext.Fatalf("expected file hash on revision")
	}

	type signOutcome struct {
		FullyApproved bool   `json:"fully_approved"`
		NextRole      string `json:"next_role"`
		Warnings      []any  `json:"warnings"`
	}
	signPath := "/revisions/" + revision.RevisionID + "/signatures"

	var first signOutcome
	jean.mustDecode(testContext, jean.send(testContext, http.MethodPost, signPath, bytes.NewReader([]byte(`{"role":"redacteur"}`)), jsonContentType), http.StatusCreated, &first)
	if first.FullyApproved || first.NextRole != "VERIFICATEUR" {
		testContext.Fatalf("unexpected first outcome %#v", first)
	}

	var second signOutcome
	marie.mustDecode(testContext, marie.send(testContext, http.MethodPost, signPath, bytes.NewReader([]byte(`{"role":"verificateur"}`)), jsonContentType), http.StatusCreated, &second)
	if !second.FullyApproved || second.NextRole != "" || len(second.Warnings) != 0 {
		testContext.Fatalf("unexpected second outcome %#v", second)
	}

	download := jean.send(testContext, http.MethodGet, "/revisions/"+revision.RevisionID+"/download", nil, "")
	defer download.Body.Close()
	if download.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected download status: %d", download.StatusCode)
	}
	stamped, err := io.ReadAll(download.Body)
	if err != nil {
		testContext.Fatalf("failed to read download: %v", err)
	}
	if !bytes.HasPrefix(stamped, []byte("%PDF-")) {
		testContext.Fatalf("expected a stamped pdf")
	}

	bordereauBody, _ := json.Marshal(map[string]any{
		"document_ids":   []string{created.Document.DocumentID},
		"recipient_name": "Bureau de contrôle",
	})
	var bordereau struct {
		BordereauID string `json:"bordereau_id"`
		Lines       []struct {
			DocNumber string `json:"doc_number"`
			Revision  string `json:"revision"`
			FileHash  string `json:"file_hash"`
			Signers   string `json:"signers"`
		} `json:"lines"`
	}
	jean.mustDecode(testContext, jean.send(testContext, http.MethodPost, "/bordereaux", bytes.NewReader(bordereauBody), jsonContentType), http.StatusCreated, &bordereau)
	if len(bordereau.Lines) != 1 {
		testContext.Fatalf("expected one bordereau line, got %d", len(bordereau.Lines))
	}
	line := bordereau.Lines[0]
	if line.DocNumber != "HT6012-010-INS-0001" || line.Revision != "0" || line.FileHash != revision.FileHash || line.Signers != "R:S V:S A:-" {
		testContext.Fatalf("unexpected bordereau line %#v", line)
	}

	rendered := jean.send(testContext, http.MethodGet, "/bordereaux/"+bordereau.BordereauID+"/pdf", nil, "")
	defer rendered.Body.Close()
	if rendered.StatusCode != http.StatusOK || rendered.Header.Get("Content-Type") != "application/pdf" {
		testContext.Fatalf("unexpected bordereau pdf response: %d %s", rendered.StatusCode, rendered.Header.Get("Content-Type"))
	}
}

func (s flowSession) send(testContext *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	testContext.Helper()
	if body == nil {
		body = http.NoBody
	}
	request, err := http.NewRequest(method, s.serverURL+path, body)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.AddCookie(s.cookie)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	return response
}

func (s flowSession) mustDecode(testContext *testing.T, response *http.Response, wantStatus int, target any) {
	testContext.Helper()
	defer response.Body.Close()
	if response.StatusCode != wantStatus {
		payload, _ := io.ReadAll(response.Body)
		testContext.Fatalf("unexpected status for %s: got %d want %d (%s)", response.Request.URL.Path, response.StatusCode, wantStatus, payload)
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
}

func mustRenderPDF(testContext *testing.T) []byte {
	testContext.Helper()
	document := fpdf.New("P", "pt", "A4", "")
	document.SetFont("Helvetica", "", 12)
	document.AddPage()
	document.Text(72, 72, "Boucle TT-101")
	var buffer bytes.Buffer
	if err := document.Output(&buffer); err != nil {
		testContext.Fatalf("failed to render pdf: %v", err)
	}
	return buffer.Bytes()
}

func mustMintSessionToken(testContext *testing.T, userID, displayName string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(sessionSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
