package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/creatorlab/socialstudio/backend/internal/artifacts"
	"github.com/creatorlab/socialstudio/backend/internal/assistant"
	"github.com/creatorlab/socialstudio/backend/internal/auth"
	"github.com/creatorlab/socialstudio/backend/internal/calendar"
	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
	"github.com/creatorlab/socialstudio/backend/internal/users"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type scriptedGateway struct {
	completion string
	image      pipeline.ImageResult
	err        error
}

func (g *scriptedGateway) Complete(context.Context, pipeline.CompletionRequest) (string, error) {
	return g.completion, g.err
}

func (g *scriptedGateway) GenerateImage(context.Context, pipeline.ImageRequest) (pipeline.ImageResult, error) {
	return g.image, g.err
}

func (g *scriptedGateway) Transcribe(context.Context, pipeline.TranscribeRequest) (string, error) {
	return g.completion, g.err
}

type memoryBlobStore struct {
	objects map[string][]byte
}

func (s *memoryBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.objects[key] = data
	return nil
}

func (s *memoryBlobStore) URL(key string) string {
	return "http://blobs.test/studio/" + key
}

type testHarness struct {
	handler http.Handler
	tokens  *auth.TokenManager
	db      *gorm.DB
	blobs   *memoryBlobStore
}

func newHarness(t *testing.T, gateway pipeline.Gateway) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&users.User{},
		&artifacts.VideoAsset{},
		&artifacts.CaptionAsset{},
		&artifacts.ThumbnailAsset{},
		&artifacts.MetadataRecord{},
		&calendar.Event{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tokens, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte("router-test-secret"),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: users.NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		t.Fatalf("user service: %v", err)
	}

	blobs := &memoryBlobStore{objects: map[string][]byte{}}
	artifactStore, err := artifacts.NewStore(artifacts.StoreConfig{
		Blobs:      blobs,
		Records:    artifacts.NewGormRecordStore(db),
		IDProvider: artifacts.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerConfig{Gateway: gateway, Store: artifactStore})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}

	calendarStore, err := calendar.NewStore(calendar.StoreConfig{
		Database:   db,
		IDProvider: calendar.NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		t.Fatalf("calendar store: %v", err)
	}

	registry, err := assistant.NewRegistry(assistant.RegistryConfig{Runner: runner, Calendar: calendarStore})
	if err != nil {
		t.Fatalf("assistant registry: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:  tokens,
		UserService:   userService,
		Runner:        runner,
		ArtifactStore: artifactStore,
		CalendarStore: calendarStore,
		Assistant:     registry,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	return &testHarness{handler: handler, tokens: tokens, db: db, blobs: blobs}
}

func (h *testHarness) sessionToken(t *testing.T, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "name": "Tester"})
	req := httptest.NewRequest(http.MethodPost, "/auth/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("session creation failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return payload.AccessToken
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v (%s)", err, recorder.Body.String())
	}
	return payload
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, 2, 2))
	canvas.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/generate/metadata"},
		{http.MethodGet, "/thumbnails"},
		{http.MethodGet, "/calendar/events"},
		{http.MethodPost, "/assistant/tools/generate_script"},
	}
	for _, route := range paths {
		recorder := harness.do(t, route.method, route.path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: got %d", route.method, route.path, recorder.Code)
		}
	}

	recorder := harness.do(t, http.MethodGet, "/thumbnails", "not-a-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: got %d", recorder.Code)
	}
}

func TestGenerateMetadataAutoSaves(t *testing.T) {
	gateway := &scriptedGateway{completion: `{"description":"Great video.","hashtags":["#go","#studio"]}`}
	harness := newHarness(t, gateway)
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/generate/metadata", token,
		map[string]string{"prompt": "my coding video"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeJSON(t, recorder)
	if payload["record"] == nil {
		t.Fatalf("metadata generation must auto-save: %#v", payload)
	}
	if _, present := payload["save_error"]; present {
		t.Fatalf("unexpected save_error: %#v", payload)
	}

	listRecorder := harness.do(t, http.MethodGet, "/metadata", token, nil)
	listPayload := decodeJSON(t, listRecorder)
	rows, _ := listPayload["metadata"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected exactly one metadata row, got %d", len(rows))
	}
}

func TestGenerateUnknownFeature(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/generate/time-travel", token, map[string]string{})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestGenerateMissingFieldIs400(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/generate/metadata", token, map[string]string{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["error"] != "invalid_request" {
		t.Fatalf("unexpected error code: %#v", payload)
	}
}

func TestGenerateMalformedProviderOutputIs502(t *testing.T) {
	gateway := &scriptedGateway{completion: "Sure! Here's a description for you."}
	harness := newHarness(t, gateway)
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/generate/metadata", token,
		map[string]string{"prompt": "my video"})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["error"] != "malformed_provider_output" {
		t.Fatalf("unexpected error code: %#v", payload)
	}
}

func TestGenerateProviderFailureIs502(t *testing.T) {
	gateway := &scriptedGateway{err: &pipeline.ProviderError{StatusCode: 429, Message: "rate limited"}}
	harness := newHarness(t, gateway)
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/generate/script", token,
		map[string]string{"topic": "anything"})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["error"] != "provider_error" {
		t.Fatalf("unexpected error code: %#v", payload)
	}
}

func TestThumbnailGenerateThenExplicitSave(t *testing.T) {
	imageBytes := testPNG(t)
	gateway := &scriptedGateway{image: pipeline.ImageResult{Bytes: imageBytes, MimeType: "image/png"}}
	harness := newHarness(t, gateway)
	token := harness.sessionToken(t, "maker@example.com")

	generated := harness.do(t, http.MethodPost, "/generate/thumbnail", token,
		map[string]string{"prompt": "shocked face, neon arrows"})
	if generated.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", generated.Code, generated.Body.String())
	}
	generatedPayload := decodeJSON(t, generated)
	encoded, _ := generatedPayload["image_b64"].(string)
	if encoded == "" {
		t.Fatalf("expected image payload: %#v", generatedPayload)
	}
	if generatedPayload["record"] != nil {
		t.Fatal("thumbnail generation must not persist anything")
	}
	if len(harness.blobs.objects) != 0 {
		t.Fatal("no blob may exist before the explicit save")
	}

	saved := harness.do(t, http.MethodPost, "/thumbnails", token,
		map[string]string{"image_b64": encoded, "kind": "thumbnail"})
	if saved.Code != http.StatusOK {
		t.Fatalf("save: %d %s", saved.Code, saved.Body.String())
	}
	savedPayload := decodeJSON(t, saved)
	url, _ := savedPayload["url"].(string)
	if !strings.HasPrefix(url, "http://blobs.test/studio/") {
		t.Fatalf("unexpected blob url %q", url)
	}

	stored := false
	for _, blob := range harness.blobs.objects {
		if bytes.Equal(blob, imageBytes) {
			stored = true
		}
	}
	if !stored {
		t.Fatal("saved blob must match the generated bytes")
	}

	list := decodeJSON(t, harness.do(t, http.MethodGet, "/thumbnails", token, nil))
	rows, _ := list["thumbnails"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected one saved thumbnail, got %d", len(rows))
	}
}

func TestSaveThumbnailRejectsBadKind(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	encoded := base64.StdEncoding.EncodeToString(testPNG(t))
	recorder := harness.do(t, http.MethodPost, "/thumbnails", token,
		map[string]string{"image_b64": encoded, "kind": "banner"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestSaveThumbnailRejectsNonImagePayload(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	encoded := base64.StdEncoding.EncodeToString([]byte("plainly not an image"))
	recorder := harness.do(t, http.MethodPost, "/thumbnails", token,
		map[string]string{"image_b64": encoded, "kind": "thumbnail"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", recorder.Code, recorder.Body.String())
	}
	if len(harness.blobs.objects) != 0 {
		t.Fatal("rejected upload must not reach the blob store")
	}
}

func TestCalendarCRUDIsOwnerScoped(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	alice := harness.sessionToken(t, "alice@example.com")
	bob := harness.sessionToken(t, "bob@example.com")

	created := harness.do(t, http.MethodPost, "/calendar/events", alice, map[string]string{
		"title": "Launch teaser",
		"date":  "2025-03-04T23:50:00Z",
	})
	if created.Code != http.StatusOK {
		t.Fatalf("create: %d %s", created.Code, created.Body.String())
	}
	createdPayload := decodeJSON(t, created)
	event, _ := createdPayload["event"].(map[string]any)
	if event["date"] != "2025-03-04" {
		t.Fatalf("expected normalized date, got %#v", event)
	}
	eventID, _ := event["id"].(string)

	bobList := decodeJSON(t, harness.do(t, http.MethodGet, "/calendar/events", bob, nil))
	if rows, _ := bobList["events"].([]any); len(rows) != 0 {
		t.Fatalf("bob must not see alice's events: %#v", rows)
	}

	forbidden := harness.do(t, http.MethodDelete, "/calendar/events/"+eventID, bob, nil)
	if forbidden.Code != http.StatusNotFound {
		t.Fatalf("foreign delete must 404, got %d", forbidden.Code)
	}

	patched := harness.do(t, http.MethodPatch, "/calendar/events/"+eventID, alice,
		map[string]string{"title": "Launch teaser v2"})
	if patched.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", patched.Code, patched.Body.String())
	}

	deleted := harness.do(t, http.MethodDelete, "/calendar/events/"+eventID, alice, nil)
	if deleted.Code != http.StatusOK {
		t.Fatalf("delete: %d", deleted.Code)
	}
}

func TestCalendarRejectsUnparseableDate(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/calendar/events", token, map[string]string{
		"title": "Launch",
		"date":  "someday soon",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestAssistantToolUsesSessionOwner(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	alice := harness.sessionToken(t, "alice@example.com")
	bob := harness.sessionToken(t, "bob@example.com")

	invoked := harness.do(t, http.MethodPost, "/assistant/tools/add_calendar_event", alice,
		map[string]any{
			"title":  "Planned by assistant",
			"date":   "2026-09-01",
			"userId": "someone-else",
		})
	if invoked.Code != http.StatusOK {
		t.Fatalf("invoke: %d %s", invoked.Code, invoked.Body.String())
	}

	aliceList := decodeJSON(t, harness.do(t, http.MethodGet, "/calendar/events", alice, nil))
	if rows, _ := aliceList["events"].([]any); len(rows) != 1 {
		t.Fatalf("expected alice to own the event, got %#v", rows)
	}
	bobList := decodeJSON(t, harness.do(t, http.MethodGet, "/calendar/events", bob, nil))
	if rows, _ := bobList["events"].([]any); len(rows) != 0 {
		t.Fatalf("event leaked to another owner: %#v", rows)
	}
}

func TestAssistantUnknownToolIs404(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	recorder := harness.do(t, http.MethodPost, "/assistant/tools/launch_rockets", token, map[string]any{})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestAssistantToolListing(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	payload := decodeJSON(t, harness.do(t, http.MethodGet, "/assistant/tools", token, nil))
	tools, _ := payload["tools"].([]any)
	if len(tools) == 0 {
		t.Fatal("expected registered tools")
	}
	names := map[string]bool{}
	for _, raw := range tools {
		tool, _ := raw.(map[string]any)
		name, _ := tool["name"].(string)
		names[name] = true
	}
	for _, required := range []string{"generate_metadata", "add_calendar_event", "delete_calendar_event"} {
		if !names[required] {
			t.Fatalf("missing tool %q in %v", required, names)
		}
	}
}

func TestSessionRejectsInvalidEmail(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})

	body, _ := json.Marshal(map[string]string{"email": "not-an-email"})
	req := httptest.NewRequest(http.MethodPost, "/auth/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestSaveCaptionsBundlesVideoAndTranscript(t *testing.T) {
	harness := newHarness(t, &scriptedGateway{})
	token := harness.sessionToken(t, "maker@example.com")

	var buf bytes.Buffer
	writer := newMultipart(t, &buf, map[string]string{"srt": "1\n00:00:00,000 --> 00:00:01,000\nhi\n"},
		"video", "clip.mp4", []byte("fake video bytes"))

	req := httptest.NewRequest(http.MethodPost, "/captions", &buf)
	req.Header.Set("Content-Type", writer)
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("save captions: %d %s", recorder.Code, recorder.Body.String())
	}

	payload := decodeJSON(t, recorder)
	video, _ := payload["video"].(map[string]any)
	caption, _ := payload["caption"].(map[string]any)
	videoID, _ := video["id"].(string)
	captionID, _ := caption["id"].(string)
	if videoID == "" || captionID == "" {
		t.Fatalf("expected both artifact refs: %#v", payload)
	}
	if len(harness.blobs.objects) != 2 {
		t.Fatalf("expected video and transcript blobs, got %d", len(harness.blobs.objects))
	}

	list := decodeJSON(t, harness.do(t, http.MethodGet, "/captions", token, nil))
	rows, _ := list["captions"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected one caption row, got %d", len(rows))
	}
}

func newMultipart(t *testing.T, buf *bytes.Buffer, fields map[string]string, fileField, fileName string, fileBytes []byte) string {
	t.Helper()
	writer := multipart.NewWriter(buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile(fileField, fileName)
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return writer.FormDataContentType()
}
