package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/echotrain/internal/chat"
	"github.com/kalambet/echotrain/internal/ingest"
	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/training"
)

const (
	testToken         = "test-token-12345"
	testCallbackToken = "callback-token-67890"
)

func setupAppHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := intent.NewEngine()
	orch := training.New(store, training.Config{}, training.WithLogger(logger))

	handler := NewAppHandler(AppDeps{
		Store:         store,
		Ingest:        ingest.NewService(store, 0),
		Orchestrator:  orch,
		Chat:          chat.New(store, nil, engine, chat.WithLogger(logger)),
		Engine:        engine,
		Token:         testToken,
		CallbackToken: testCallbackToken,
		Logger:        logger,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request, wantCode int) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != wantCode {
		t.Fatalf("%s %s: status = %d, want %d; body = %s", req.Method, req.URL.Path, rr.Code, wantCode, rr.Body.String())
	}
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

func uploadBody(t *testing.T, filename, format string, content []byte) string {
	t.Helper()
	b, err := json.Marshal(UploadRequest{
		Filename: filename,
		Format:   format,
		Content:  base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func uploadFixture(t *testing.T, h http.Handler, ws string) UploadView {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "shop_nlu.yml"))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	req := authReq(http.MethodPost, "/workspaces/"+ws+"/datasets", uploadBody(t, "shop_nlu.yml", "structured-yaml", data), testToken)
	return decode[UploadView](t, serve(t, h, req, http.StatusCreated))
}

func callback(t *testing.T, h http.Handler, body string, wantCode int) map[string]string {
	t.Helper()
	req := authReq(http.MethodPost, "/trainer/callback", body, testCallbackToken)
	rr := serve(t, h, req, wantCode)
	if wantCode != http.StatusOK {
		return nil
	}
	return decode[map[string]string](t, rr)
}

func TestEndToEnd_UploadTrainCallback(t *testing.T) {
	h, store := setupAppHandler(t)

	up := uploadFixture(t, h, "shop")
	if !up.Result.Valid || up.Dataset.Status != "validated" {
		t.Fatalf("upload = valid:%v status:%s, errors %v", up.Result.Valid, up.Dataset.Status, up.Result.Errors)
	}
	if up.Dataset.SampleCount != 15 || len(up.Dataset.Intents) != 3 || len(up.Dataset.Entities) != 2 {
		t.Fatalf("dataset = samples:%d intents:%v entities:%v", up.Dataset.SampleCount, up.Dataset.Intents, up.Dataset.Entities)
	}
	dsID := up.Dataset.ID

	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/shop/datasets/"+dsID+"/train", "", testToken), http.StatusCreated)
	job := decode[JobView](t, rr)
	if job.Status != "queued" || job.DatasetID != dsID {
		t.Fatalf("job = %+v", job)
	}

	// A second start while the first job is active is refused.
	serve(t, h, authReq(http.MethodPost, "/workspaces/shop/datasets/"+dsID+"/train", "", testToken), http.StatusConflict)

	res := callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"training","progress":0.4}`, job.Handle), http.StatusOK)
	if res["result"] != "applied" {
		t.Errorf("training callback result = %q, want applied", res["result"])
	}

	res = callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"completed","progress":1,"artifact_ref":"model-x"}`, job.Handle), http.StatusOK)
	if res["result"] != "applied" {
		t.Errorf("completed callback result = %q, want applied", res["result"])
	}

	d, err := store.GetDataset(dsID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if d.Status != storage.DatasetTrained {
		t.Errorf("dataset status = %s, want trained", d.Status)
	}
	// A trained dataset goes back through revalidation before retraining.
	serve(t, h, authReq(http.MethodPost, "/workspaces/shop/datasets/"+dsID+"/train", "", testToken), http.StatusConflict)

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/shop/jobs/"+job.ID, "", testToken), http.StatusOK)
	got := decode[JobView](t, rr)
	if got.Status != "completed" || got.ModelPath != "model-x" || got.Progress != 1 || got.FinishedAt == nil {
		t.Errorf("finished job = %+v", got)
	}

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/shop/model", "", testToken), http.StatusOK)
	model := decode[ModelView](t, rr)
	if model.ModelPath != "model-x" || model.ModelName != "model-x" || model.JobID != job.ID || model.DatasetID != dsID {
		t.Errorf("model = %+v", model)
	}
	if model.SampleCount != 15 || len(model.Intents) != 3 || len(model.Entities) != 2 {
		t.Errorf("model summary = samples:%d intents:%v entities:%v", model.SampleCount, model.Intents, model.Entities)
	}

	// Redelivery after the terminal state changes nothing.
	res = callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"failed","error":"late"}`, job.Handle), http.StatusOK)
	if res["result"] != "ignored" {
		t.Errorf("late callback result = %q, want ignored", res["result"])
	}
	if after, _ := store.GetTrainingJob(job.ID); after.Status != storage.JobCompleted {
		t.Errorf("job status after late callback = %s", after.Status)
	}
}

func TestUpload_Invalid(t *testing.T) {
	h, _ := setupAppHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"bad base64", `{"filename":"a.csv","format":"csv","content":"%%%"}`},
		{"unknown format", uploadBody(t, "a.xml", "xml", []byte("<x/>"))},
		{"empty content", uploadBody(t, "a.csv", "csv", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets", tt.body, testToken), http.StatusBadRequest)
		})
	}
}

func TestUpload_MalformedDatasetStored(t *testing.T) {
	h, _ := setupAppHandler(t)

	body := uploadBody(t, "bad.json", "json", []byte("not json at all"))
	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets", body, testToken), http.StatusCreated)
	up := decode[UploadView](t, rr)
	if up.Result.Valid || up.Dataset.Status != "error" || len(up.Dataset.ValidationReport) == 0 {
		t.Fatalf("upload = %+v", up)
	}

	// An errored dataset cannot be trained.
	serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+up.Dataset.ID+"/train", "", testToken), http.StatusConflict)
	// Nor does it have a corpus to export.
	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets/"+up.Dataset.ID+"/corpus", "", testToken), http.StatusConflict)
}

func TestDatasets_ListAndGet(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets", "", testToken), http.StatusOK)
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("empty list body = %s, want []", body)
	}

	up := uploadFixture(t, h, "w1")

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets", "", testToken), http.StatusOK)
	list := decode[[]DatasetView](t, rr)
	if len(list) != 1 || list[0].ID != up.Dataset.ID {
		t.Fatalf("list = %+v", list)
	}
	if strings.Contains(rr.Body.String(), "hello there") {
		t.Error("list exposes raw content")
	}

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets/"+up.Dataset.ID, "", testToken), http.StatusOK)
	if got := decode[DatasetView](t, rr); got.Filename != "shop_nlu.yml" || got.Format != "structured-yaml" {
		t.Errorf("dataset = %+v", got)
	}

	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets/missing", "", testToken), http.StatusNotFound)
}

func TestWorkspaceIsolation(t *testing.T) {
	h, _ := setupAppHandler(t)
	up := uploadFixture(t, h, "w1")
	id := up.Dataset.ID

	serve(t, h, authReq(http.MethodGet, "/workspaces/w2/datasets/"+id, "", testToken), http.StatusNotFound)
	serve(t, h, authReq(http.MethodPost, "/workspaces/w2/datasets/"+id+"/train", "", testToken), http.StatusNotFound)
	serve(t, h, authReq(http.MethodPost, "/workspaces/w2/datasets/"+id+"/revalidate", "", testToken), http.StatusNotFound)
	serve(t, h, authReq(http.MethodGet, "/workspaces/w2/datasets/"+id+"/jobs", "", testToken), http.StatusNotFound)

	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+id+"/train", "", testToken), http.StatusCreated)
	job := decode[JobView](t, rr)
	serve(t, h, authReq(http.MethodGet, "/workspaces/w2/jobs/"+job.ID, "", testToken), http.StatusNotFound)

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w2/datasets", "", testToken), http.StatusOK)
	if list := decode[[]DatasetView](t, rr); len(list) != 0 {
		t.Errorf("w2 sees %d datasets", len(list))
	}
}

func TestRevalidate_Endpoint(t *testing.T) {
	h, _ := setupAppHandler(t)
	up := uploadFixture(t, h, "w1")
	id := up.Dataset.ID

	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+id+"/revalidate", "", testToken), http.StatusOK)
	if got := decode[UploadView](t, rr); got.Dataset.Status != "validated" || got.Dataset.SampleCount != 15 {
		t.Errorf("revalidated = %+v", got.Dataset)
	}

	serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+id+"/train", "", testToken), http.StatusCreated)
	serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+id+"/revalidate", "", testToken), http.StatusConflict)
}

func TestCorpus_Export(t *testing.T) {
	h, _ := setupAppHandler(t)
	up := uploadFixture(t, h, "w1")
	base := "/workspaces/w1/datasets/" + up.Dataset.ID + "/corpus"

	rr := serve(t, h, authReq(http.MethodGet, base, "", testToken), http.StatusOK)
	var corpus struct {
		Examples []struct {
			Text   string `json:"text"`
			Intent string `json:"intent"`
		} `json:"examples"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &corpus); err != nil {
		t.Fatalf("decoding corpus: %v", err)
	}
	if len(corpus.Examples) != 15 {
		t.Errorf("corpus has %d examples, want 15", len(corpus.Examples))
	}

	rr = serve(t, h, authReq(http.MethodGet, base+"?format=yaml", "", testToken), http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{"- intent: greet", "[running shoes](product)", "utter_greet"} {
		if !strings.Contains(body, want) {
			t.Errorf("yaml export missing %q:\n%s", want, body)
		}
	}

	if got := rr.Header().Get(DroppedEntitiesHeader); got != "" {
		t.Errorf("%s = %q for a fully annotated corpus", DroppedEntitiesHeader, got)
	}

	serve(t, h, authReq(http.MethodGet, base+"?format=xml", "", testToken), http.StatusBadRequest)
}

func TestCorpus_ExportYAMLReimports(t *testing.T) {
	h, _ := setupAppHandler(t)
	content := []byte(`[
		{"text": "line one\nline two", "intent": "note"},
		{"text": "see [docs](link) please", "intent": "ask"},
		{"text": "book a room", "intent": "book", "entities": [{"entity": "city", "value": "Paris"}]}
	]`)
	req := authReq(http.MethodPost, "/workspaces/w1/datasets", uploadBody(t, "awkward.json", "json", content), testToken)
	up := decode[UploadView](t, serve(t, h, req, http.StatusCreated))
	if up.Dataset.Status != "validated" {
		t.Fatalf("status = %q, report %v", up.Dataset.Status, up.Dataset.ValidationReport)
	}

	rr := serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets/"+up.Dataset.ID+"/corpus?format=yaml", "", testToken), http.StatusOK)
	if got := rr.Header().Get(DroppedEntitiesHeader); got != "1" {
		t.Errorf("%s = %q, want 1", DroppedEntitiesHeader, got)
	}

	req = authReq(http.MethodPost, "/workspaces/w1/datasets", uploadBody(t, "awkward.yml", "structured-yaml", rr.Body.Bytes()), testToken)
	again := decode[UploadView](t, serve(t, h, req, http.StatusCreated))
	if again.Dataset.Status != "validated" {
		t.Fatalf("re-import status = %q, report %v\n%s", again.Dataset.Status, again.Dataset.ValidationReport, rr.Body.String())
	}
	if again.Dataset.SampleCount != 3 {
		t.Errorf("re-import sample_count = %d, want 3", again.Dataset.SampleCount)
	}
	if len(again.Dataset.Entities) != 0 {
		t.Errorf("re-import entities = %v, want none", again.Dataset.Entities)
	}
}

func TestJobs_ListAndModel(t *testing.T) {
	h, _ := setupAppHandler(t)
	up := uploadFixture(t, h, "w1")

	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/model", "", testToken), http.StatusNotFound)

	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+up.Dataset.ID+"/train", "", testToken), http.StatusCreated)
	job := decode[JobView](t, rr)

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets/"+up.Dataset.ID+"/jobs", "", testToken), http.StatusOK)
	jobs := decode[[]JobView](t, rr)
	if len(jobs) != 1 || jobs[0].ID != job.ID || jobs[0].FinishedAt != nil {
		t.Fatalf("jobs = %+v", jobs)
	}
	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/jobs/missing", "", testToken), http.StatusNotFound)
}

func TestCallback_Errors(t *testing.T) {
	h, _ := setupAppHandler(t)
	up := uploadFixture(t, h, "w1")
	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+up.Dataset.ID+"/train", "", testToken), http.StatusCreated)
	job := decode[JobView](t, rr)

	callback(t, h, `{"job_handle":"nope","status":"training","progress":0.1}`, http.StatusNotFound)
	callback(t, h, `{"status":"training"}`, http.StatusBadRequest)
	callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"exploded"}`, job.Handle), http.StatusBadRequest)
	callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"completed"}`, job.Handle), http.StatusBadRequest)
	callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"training","progress":1.5}`, job.Handle), http.StatusBadRequest)
}

func TestCallback_Failed(t *testing.T) {
	h, store := setupAppHandler(t)
	up := uploadFixture(t, h, "w1")
	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/datasets/"+up.Dataset.ID+"/train", "", testToken), http.StatusCreated)
	job := decode[JobView](t, rr)

	res := callback(t, h, fmt.Sprintf(`{"job_handle":%q,"status":"failed","error":"out of memory"}`, job.Handle), http.StatusOK)
	if res["result"] != "applied" {
		t.Errorf("result = %q, want applied", res["result"])
	}
	got, _ := store.GetTrainingJob(job.ID)
	if got.Status != storage.JobFailed || !strings.Contains(got.Log, "out of memory") {
		t.Errorf("job = %s log %q", got.Status, got.Log)
	}
	d, _ := store.GetDataset(up.Dataset.ID)
	if d.Status != storage.DatasetError || len(d.ValidationReport) == 0 {
		t.Errorf("dataset = %s report %v", d.Status, d.ValidationReport)
	}
}

func TestChat_Fallback(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := serve(t, h, authReq(http.MethodPost, "/workspaces/w1/chat", `{"message":"I'm tired, show me cozy clothes"}`, testToken), http.StatusOK)
	resp := decode[chat.Response](t, rr)
	if resp.ModelUsed {
		t.Error("model_used = true without a trained model")
	}
	if resp.Intent != intent.MoodIntent("tired") || len(resp.Items) == 0 {
		t.Errorf("response = %+v", resp)
	}

	serve(t, h, authReq(http.MethodPost, "/workspaces/w1/chat", `{"message":"  "}`, testToken), http.StatusBadRequest)
}

func TestTokenize(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := serve(t, h, authReq(http.MethodPost, "/tokenize", `{"text":"track order 12345"}`, testToken), http.StatusOK)
	resp := decode[TokenizeResponse](t, rr)
	if len(resp.Tokens) != 3 {
		t.Fatalf("tokens = %+v", resp.Tokens)
	}
	if tok := resp.Tokens[2]; tok.Text != "12345" || tok.Start != 12 || tok.End != 17 {
		t.Errorf("third token = %+v", tok)
	}

	serve(t, h, authReq(http.MethodPost, "/tokenize", `{"text":""}`, testToken), http.StatusBadRequest)
}

func TestAuth(t *testing.T) {
	h, _ := setupAppHandler(t)

	serve(t, h, authReq(http.MethodGet, "/health", "", ""), http.StatusOK)
	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets", "", ""), http.StatusUnauthorized)
	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets", "", "wrong"), http.StatusUnauthorized)
	// The callback token does not open the API, and the API token does not
	// open the callback.
	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets", "", testCallbackToken), http.StatusUnauthorized)
	serve(t, h, authReq(http.MethodPost, "/trainer/callback", `{"job_handle":"x","status":"queued"}`, testToken), http.StatusUnauthorized)

	rr := serve(t, h, authReq(http.MethodGet, "/workspaces/w1/datasets", "", ""), http.StatusUnauthorized)
	var body map[string]map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"]["type"] != "authentication_error" {
		t.Errorf("error type = %q", body["error"]["type"])
	}
}

func TestModelName(t *testing.T) {
	tests := map[string]string{
		"model-x":                     "model-x",
		"models/model_42_1700.tar.gz": "model_42_1700",
		"s3://bucket/runs/nlu.tgz":    "nlu",
		`C:\models\latest.zip`:        "latest",
	}
	for in, want := range tests {
		if got := modelName(in); got != want {
			t.Errorf("modelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnnotations_SaveAndList(t *testing.T) {
	h, _ := setupAppHandler(t)
	const text = "ship my parcel to New York"

	rr := serve(t, h, authReq(http.MethodPost, "/tokenize", `{"text":"`+text+`"}`, testToken), http.StatusOK)
	toks := decode[TokenizeResponse](t, rr).Tokens
	if len(toks) != 6 {
		t.Fatalf("tokens = %+v", toks)
	}

	body := fmt.Sprintf(`{"text":%q,"intent":"ship","entities":[{"entity":"city","start":%d,"end":%d}]}`,
		text, toks[4].Start, toks[5].End)
	rr = serve(t, h, authReq(http.MethodPost, "/workspaces/w1/annotations", body, testToken), http.StatusCreated)
	saved := decode[AnnotationView](t, rr)
	if saved.ID == "" || saved.Intent != "ship" || len(saved.Entities) != 1 || saved.Entities[0].Value != "New York" {
		t.Fatalf("saved = %+v", saved)
	}
	serve(t, h, authReq(http.MethodPost, "/workspaces/w1/annotations", `{"text":"hi there","intent":"greet"}`, testToken), http.StatusCreated)

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w1/annotations", "", testToken), http.StatusOK)
	list := decode[[]AnnotationView](t, rr)
	if len(list) != 2 || list[0].ID != saved.ID || list[1].Entities == nil {
		t.Fatalf("list = %+v", list)
	}

	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w2/annotations", "", testToken), http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("other workspace list = %s, want []", got)
	}

	// The list is a valid json dataset.
	rr = serve(t, h, authReq(http.MethodGet, "/workspaces/w1/annotations", "", testToken), http.StatusOK)
	req := authReq(http.MethodPost, "/workspaces/w1/datasets", uploadBody(t, "annotations.json", "json", rr.Body.Bytes()), testToken)
	up := decode[UploadView](t, serve(t, h, req, http.StatusCreated))
	if up.Dataset.Status != "validated" || up.Dataset.SampleCount != 2 || len(up.Dataset.Entities) != 1 {
		t.Errorf("annotation dataset = %+v", up.Dataset)
	}
}

func TestAnnotations_Invalid(t *testing.T) {
	h, _ := setupAppHandler(t)

	for name, body := range map[string]string{
		"not json":       `{`,
		"empty text":     `{"text":"  ","intent":"greet"}`,
		"no intent":      `{"text":"hello"}`,
		"mid-token span": `{"text":"track order 12345","intent":"track","entities":[{"entity":"id","start":13,"end":17}]}`,
		"value mismatch": `{"text":"track order 12345","intent":"track","entities":[{"entity":"id","value":"999","start":12,"end":17}]}`,
		"span past end":  `{"text":"hi","intent":"greet","entities":[{"entity":"x","start":0,"end":5}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			serve(t, h, authReq(http.MethodPost, "/workspaces/w1/annotations", body, testToken), http.StatusBadRequest)
		})
	}

	rr := serve(t, h, authReq(http.MethodGet, "/workspaces/w1/annotations", "", testToken), http.StatusOK)
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("list after rejections = %s, want []", got)
	}
	serve(t, h, authReq(http.MethodGet, "/workspaces/w1/annotations", "", ""), http.StatusUnauthorized)
}

func TestBearerAuth_EmptyTokenAdmitsNobody(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range []string{"", "Bearer ", "Bearer x"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status = %d, want 401", header, rr.Code)
		}
	}
}
