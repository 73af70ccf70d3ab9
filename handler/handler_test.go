package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stevemurr/itable/catalog"
	"github.com/stevemurr/itable/handler"
	"github.com/stevemurr/itable/store"
)

const employeesSchema = `{
	"type": "object",
	"properties": {
		"empno":  {"type": "integer"},
		"name":   {"type": "string"},
		"salary": {"type": "number"}
	},
	"required": ["empno", "name"],
	"key": ["empno"],
	"validation": {"salary": {"min": 0, "max": 100000}}
}`

func setup(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	c, err := catalog.Open(s)
	if err != nil {
		t.Fatal(err)
	}
	h := handler.Chain(handler.New(c), handler.Recovery, handler.RequestID)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, s
}

// setupEmployees also registers the employees schema.
func setupEmployees(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	ts, s := setup(t)
	resp := do(t, http.MethodPut, ts.URL+"/schemas/employees", []byte(employeesSchema))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return ts, s
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func decodeJSONArray(t *testing.T, r io.Reader) []any {
	t.Helper()
	var v []any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func do(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func TestRootAndHealth(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodGet, ts.URL+"/", nil)
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID")
	}

	resp = do(t, http.MethodGet, ts.URL+"/health", nil)
	expectStatus(t, resp, 200)
	body = decodeJSON(t, resp.Body)
	if body["status"] != "healthy" {
		t.Fatalf("expected status=healthy, got %v", body["status"])
	}

	resp = do(t, http.MethodGet, ts.URL+"/nope", nil)
	expectStatus(t, resp, 404)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts, _ := setup(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}
}

func TestSchemaCRUD(t *testing.T) {
	ts, s := setupEmployees(t)

	resp := do(t, http.MethodGet, ts.URL+"/schemas/employees", nil)
	expectStatus(t, resp, 200)
	doc := decodeJSON(t, resp.Body)
	if doc["type"] != "object" {
		t.Fatalf("expected type=object, got %v", doc["type"])
	}

	persisted, _ := s.GetSchema("employees")
	if persisted == nil {
		t.Fatal("expected schema in store")
	}

	resp = do(t, http.MethodGet, ts.URL+"/schemas", nil)
	expectStatus(t, resp, 200)
	if _, ok := decodeJSON(t, resp.Body)["employees"]; !ok {
		t.Fatal("expected employees in schema list")
	}

	// no records yet: schema can be replaced
	resp = do(t, http.MethodPut, ts.URL+"/schemas/employees", []byte(employeesSchema))
	expectStatus(t, resp, 200)

	resp = do(t, http.MethodDelete, ts.URL+"/schemas/employees", nil)
	expectStatus(t, resp, 200)
	resp = do(t, http.MethodGet, ts.URL+"/schemas/employees", nil)
	expectStatus(t, resp, 404)
	resp = do(t, http.MethodDelete, ts.URL+"/schemas/employees", nil)
	expectStatus(t, resp, 404)
}

func TestPutSchemaRejectsMalformed(t *testing.T) {
	ts, _ := setup(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{`},
		{"unknown type", `{"properties": {"a": {"type": "date"}}, "key": ["a"]}`},
		{"key not declared", `{"properties": {"a": {"type": "string"}}, "key": ["b"]}`},
		{"range on string", `{"properties": {"a": {"type": "string"}}, "key": ["a"], "validation": {"a": {"min": 1}}}`},
		{"no key", `{"properties": {"a": {"type": "string"}}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, http.MethodPut, ts.URL+"/schemas/things", []byte(tc.body))
			expectStatus(t, resp, 400)
			body := decodeJSON(t, resp.Body)
			if body["code"] != "MALFORMED_SCHEMA" {
				t.Fatalf("expected MALFORMED_SCHEMA, got %v", body)
			}
		})
	}

	resp := do(t, http.MethodPut, ts.URL+"/schemas/bad-name", []byte(employeesSchema))
	expectStatus(t, resp, 400)
}

func TestEmployeeScenario(t *testing.T) {
	ts, s := setupEmployees(t)
	url := ts.URL + "/collections/employees/records"

	resp := do(t, http.MethodPost, url, mustJSON(t, map[string]any{"empno": 1, "name": "Alice", "salary": 5000}))
	expectStatus(t, resp, 201)
	body := decodeJSON(t, resp.Body)
	if body["position"] != float64(0) {
		t.Fatalf("expected position 0, got %v", body["position"])
	}

	resp = do(t, http.MethodPost, url, mustJSON(t, map[string]any{"empno": 1, "name": "Bob", "salary": 4000}))
	expectStatus(t, resp, 409)
	body = decodeJSON(t, resp.Body)
	if body["code"] != "DUPLICATE_KEY" {
		t.Fatalf("expected DUPLICATE_KEY, got %v", body)
	}

	resp = do(t, http.MethodPost, url, mustJSON(t, map[string]any{"empno": 2, "name": "Carl", "salary": 200000}))
	expectStatus(t, resp, 422)
	body = decodeJSON(t, resp.Body)
	violations := body["violations"].([]any)
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %v", violations)
	}
	v := violations[0].(map[string]any)
	if v["field"] != "salary" || v["kind"] != "out_of_range" {
		t.Fatalf("unexpected violation %v", v)
	}

	entries, _ := s.GetAll("employees")
	if len(entries) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(entries))
	}
}

func TestInsertReportsEveryViolation(t *testing.T) {
	ts, _ := setupEmployees(t)
	resp := do(t, http.MethodPost, ts.URL+"/collections/employees/records",
		mustJSON(t, map[string]any{"salary": "high"}))
	expectStatus(t, resp, 422)
	violations := decodeJSON(t, resp.Body)["violations"].([]any)
	// empno and name missing, salary mistyped
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %v", violations)
	}
}

func TestRecordLifecycle(t *testing.T) {
	ts, _ := setupEmployees(t)
	base := ts.URL + "/collections/employees/records"
	for i, name := range []string{"Alice", "Bob", "Carl"} {
		resp := do(t, http.MethodPost, base, mustJSON(t, map[string]any{"empno": i + 1, "name": name}))
		expectStatus(t, resp, 201)
	}

	resp := do(t, http.MethodGet, base+"/2", nil)
	expectStatus(t, resp, 200)
	rec := decodeJSON(t, resp.Body)
	if rec["name"] != "Bob" {
		t.Fatalf("expected Bob, got %v", rec)
	}

	resp = do(t, http.MethodGet, base+"/9", nil)
	expectStatus(t, resp, 404)
	resp = do(t, http.MethodGet, base+"/abc", nil)
	expectStatus(t, resp, 400)
	resp = do(t, http.MethodGet, ts.URL+"/collections/nope/records/1", nil)
	expectStatus(t, resp, 404)

	resp = do(t, http.MethodPut, base+"/1", mustJSON(t, map[string]any{"empno": 1, "name": "Alicia"}))
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["position"] != float64(2) {
		t.Fatalf("replacement should move to the end, got %v", body)
	}
	resp = do(t, http.MethodPut, base+"/1", mustJSON(t, map[string]any{"empno": 1}))
	expectStatus(t, resp, 422)
	resp = do(t, http.MethodPut, base+"/7", mustJSON(t, map[string]any{"empno": 7, "name": "x"}))
	expectStatus(t, resp, 404)

	resp = do(t, http.MethodDelete, base+"/2", nil)
	expectStatus(t, resp, 200)
	resp = do(t, http.MethodDelete, base+"/2", nil)
	expectStatus(t, resp, 404)

	resp = do(t, http.MethodGet, base, nil)
	expectStatus(t, resp, 200)
	items := decodeJSONArray(t, resp.Body)
	var names []string
	for _, it := range items {
		names = append(names, it.(map[string]any)["name"].(string))
	}
	if len(names) != 2 || names[0] != "Carl" || names[1] != "Alicia" {
		t.Fatalf("unexpected scan order %v", names)
	}

	resp = do(t, http.MethodGet, ts.URL+"/collections", nil)
	expectStatus(t, resp, 200)
	if cols := decodeJSONArray(t, resp.Body); len(cols) != 1 || cols[0] != "employees" {
		t.Fatalf("unexpected collections %v", cols)
	}
}

func TestCompositeKeyPath(t *testing.T) {
	ts, _ := setup(t)
	resp := do(t, http.MethodPut, ts.URL+"/schemas/shifts", []byte(`{
		"properties": {"site": {"type": "string"}, "day": {"type": "integer"}, "lead": {"type": "string"}},
		"key": ["site", "day"]
	}`))
	expectStatus(t, resp, 201)

	resp = do(t, http.MethodPost, ts.URL+"/collections/shifts/records",
		mustJSON(t, map[string]any{"site": "north", "day": 3, "lead": "Dana"}))
	expectStatus(t, resp, 201)

	resp = do(t, http.MethodGet, ts.URL+"/collections/shifts/records/north/3", nil)
	expectStatus(t, resp, 200)
	if decodeJSON(t, resp.Body)["lead"] != "Dana" {
		t.Fatal("expected Dana")
	}
	resp = do(t, http.MethodGet, ts.URL+"/collections/shifts/records/north", nil)
	expectStatus(t, resp, 400)
	resp = do(t, http.MethodPost, ts.URL+"/collections/shifts/records",
		mustJSON(t, map[string]any{"site": "north/east", "day": 4, "lead": "Eli"}))
	expectStatus(t, resp, 201)
	resp = do(t, http.MethodGet, ts.URL+"/collections/shifts/records/north%2Feast/4", nil)
	expectStatus(t, resp, 200)
	if decodeJSON(t, resp.Body)["lead"] != "Eli" {
		t.Fatal("expected Eli")
	}
	resp = do(t, http.MethodDelete, ts.URL+"/collections/shifts/records/north%2Feast/4", nil)
	expectStatus(t, resp, 200)
	resp = do(t, http.MethodGet, ts.URL+"/collections/shifts/records/north%2Feast/4", nil)
	expectStatus(t, resp, 404)
}

func TestGetRecordETag(t *testing.T) {
	ts, _ := setupEmployees(t)
	resp := do(t, http.MethodPost, ts.URL+"/collections/employees/records",
		mustJSON(t, map[string]any{"empno": 1, "name": "Alice"}))
	expectStatus(t, resp, 201)

	resp = do(t, http.MethodGet, ts.URL+"/collections/employees/records/1", nil)
	expectStatus(t, resp, 200)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/collections/employees/records/1", nil)
	req.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	expectStatus(t, resp2, http.StatusNotModified)
}

func TestValidateEndpoint(t *testing.T) {
	ts, s := setupEmployees(t)
	url := ts.URL + "/collections/employees/validate"

	resp := do(t, http.MethodPost, url, mustJSON(t, map[string]any{"empno": 1, "name": "Alice"}))
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["valid"] != true {
		t.Fatalf("expected valid, got %v", body)
	}

	resp = do(t, http.MethodPost, url, mustJSON(t, []any{
		map[string]any{"empno": 1, "name": "Alice"},
		map[string]any{"empno": "one"},
	}))
	expectStatus(t, resp, 200)
	results := decodeJSONArray(t, resp.Body)
	if results[0].(map[string]any)["valid"] != true {
		t.Fatalf("first record should be valid: %v", results[0])
	}
	second := results[1].(map[string]any)
	if second["valid"] != false || len(second["violations"].([]any)) != 2 {
		t.Fatalf("second record should report 2 violations: %v", second)
	}

	resp = do(t, http.MethodPost, url, []byte(`"nope"`))
	expectStatus(t, resp, 400)

	entries, _ := s.GetAll("employees")
	if len(entries) != 0 {
		t.Fatal("validate must not store records")
	}
}

func TestQueryCollection(t *testing.T) {
	ts, _ := setupEmployees(t)
	for i, name := range []string{"Alice", "Bob", "Carl"} {
		resp := do(t, http.MethodPost, ts.URL+"/collections/employees/records",
			mustJSON(t, map[string]any{"empno": i + 1, "name": name, "salary": 1000 * (i + 1)}))
		expectStatus(t, resp, 201)
	}

	resp := do(t, http.MethodPost, ts.URL+"/collections/employees/query", []byte(`{
		"filters": [
			{"field": "salary", "op": ">", "value": 1500},
			{"field": "name", "op": "=", "value": ""},
			{"field": "empno", "op": "IN", "value": [2, 3], "apply": true}
		]
	}`))
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	want := `SELECT * FROM "employees" WHERE 1=1 AND salary > :salary_1 AND empno IN (:empno_2, :empno_3)`
	if body["statement"] != want {
		t.Fatalf("expected %q, got %q", want, body["statement"])
	}
	if rows := body["rows"].([]any); len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %v", rows)
	}

	resp = do(t, http.MethodPost, ts.URL+"/collections/employees/query",
		[]byte(`{"filters": [{"field": "salary", "op": "; DROP", "value": 1}]}`))
	expectStatus(t, resp, 400)
	if decodeJSON(t, resp.Body)["code"] != "UNSUPPORTED_OPERATOR" {
		t.Fatal("expected UNSUPPORTED_OPERATOR")
	}

	resp = do(t, http.MethodPost, ts.URL+"/collections/nope/query", []byte(`{}`))
	expectStatus(t, resp, 404)
}

func TestBuildQuery(t *testing.T) {
	ts, _ := setup(t)
	resp := do(t, http.MethodPost, ts.URL+"/query/build", []byte(`{
		"base": "SELECT * FROM users WHERE 1=1",
		"filters": [
			{"field": "name", "op": "=", "value": "x' OR '1'='1"},
			{"field": "city", "op": "=", "value": null}
		]
	}`))
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["text"] != "SELECT * FROM users WHERE 1=1 AND name = :name_1" {
		t.Fatalf("unexpected text %v", body["text"])
	}
	bindings := body["bindings"].(map[string]any)
	if bindings["name_1"] != "x' OR '1'='1" {
		t.Fatalf("unexpected bindings %v", bindings)
	}

	resp = do(t, http.MethodPost, ts.URL+"/query/build", []byte(`{"base": "", "filters": []}`))
	expectStatus(t, resp, 400)

	resp = do(t, http.MethodPost, ts.URL+"/query/build",
		[]byte(`{"base": "SELECT 1 WHERE 1=1", "filters": [{"field": "a b", "op": "=", "value": 1}]}`))
	expectStatus(t, resp, 400)
	if decodeJSON(t, resp.Body)["code"] != "INVALID_IDENTIFIER" {
		t.Fatal("expected INVALID_IDENTIFIER")
	}
}

func TestCORS(t *testing.T) {
	c, err := catalog.Open(store.NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(handler.Chain(handler.New(c), handler.CORS([]string{"http://ok.example"})))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/schemas", nil)
	req.Header.Set("Origin", "http://ok.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://ok.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header, got %q", got)
	}
}
