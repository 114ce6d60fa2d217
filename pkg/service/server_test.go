package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nitinref/R8R-sub001/pkg/memory"
	"github.com/Nitinref/R8R-sub001/pkg/pipeline"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
	"github.com/stretchr/testify/assert"
)

func newTestServer(t *testing.T, options ...ServerOption) *Server {
	t.Helper()

	mock := provider.NewMockProvider("mock", "Paris.")
	orch := provider.NewOrchestrator(provider.WithProvider(mock))

	rtvr := retrieval.NewStaticRetriever("corpus",
		retrieval.Document{ID: "d1", Content: "Paris is the capital of France."},
	)

	exec := pipeline.NewStepExecutor(orch, pipeline.WithRetriever(rtvr))
	runner := pipeline.NewRunner(exec)

	return NewServer(runner, orch, options...)
}

func postJSON(t *testing.T, srv *Server, path string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.app.Test(req)
	assert.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func linearBody() *pipeline.Definition {
	return &pipeline.Definition{
		ID:   "qa",
		Name: "question answering",
		Steps: []pipeline.Step{
			{ID: "fetch", Kind: pipeline.StepRetrieve, Config: pipeline.StepConfig{
				Retriever: "corpus",
			}},
			{ID: "answer", Kind: pipeline.StepGenerate, Config: pipeline.StepConfig{
				Model: provider.ModelRef{Provider: "mock", Model: "m"},
			}},
		},
	}
}

func TestRegisterAndRunPipeline(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/pipelines", linearBody())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv, "/pipelines/qa/run", pipeline.RunRequest{
		Query: "capital of France",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var response pipeline.Response
	decodeBody(t, resp, &response)
	assert.Equal(t, "Paris.", response.Answer)
	assert.False(t, response.Cached)
}

func TestRegisterRejectsInvalidDefinition(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/pipelines", &pipeline.Definition{ID: "broken"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestRunUnknownPipeline(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/pipelines/ghost/run", pipeline.RunRequest{Query: "q"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/pipelines", linearBody())
	resp.Body.Close()

	resp = postJSON(t, srv, "/pipelines/qa/run", pipeline.RunRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRunDAGPipeline(t *testing.T) {
	srv := newTestServer(t)

	def := &pipeline.Definition{
		ID:   "graph",
		Name: "graph pipeline",
		Nodes: []pipeline.Node{
			{ID: "fetch", Kind: pipeline.StepRetrieve, Config: pipeline.StepConfig{
				Retriever: "corpus",
			}},
			{ID: "answer", Kind: pipeline.StepGenerate, Config: pipeline.StepConfig{
				Model: provider.ModelRef{Provider: "mock", Model: "m"},
			}},
		},
		Edges: []pipeline.Edge{{Source: "fetch", Target: "answer"}},
	}

	resp := postJSON(t, srv, "/pipelines", def)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv, "/pipelines/graph/run", pipeline.RunRequest{Query: "q"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result pipeline.DAGResult
	decodeBody(t, resp, &result)
	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.NodesExecuted)
	assert.Equal(t, "Paris.", result.Response.Answer)
}

func TestMemoryRoutesWithoutManager(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/memory", memory.StoreRequest{
		UserID: "u", Query: "q", Response: "r",
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp.Body.Close()
}

func TestMemoryStoreAndSearch(t *testing.T) {
	mgr := memory.NewManager(memory.NewInMemoryIndex(), provider.NewMockEmbedder())
	srv := newTestServer(t, WithMemories(mgr))

	resp := postJSON(t, srv, "/memory", memory.StoreRequest{
		UserID:   "user-1",
		Query:    "favorite language",
		Response: "The user prefers Go for backend services.",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var entry memory.Entry
	decodeBody(t, resp, &entry)
	assert.NotEmpty(t, entry.ID)

	resp = postJSON(t, srv, "/memory/search", memory.RetrieveRequest{
		UserID: "user-1",
		Query:  "favorite language",
		TopK:   3,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var matches []memory.Match
	decodeBody(t, resp, &matches)
	assert.NotEmpty(t, matches)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := srv.app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Contains(t, body, "providers")
	assert.Equal(t, "disabled", body["memory"])
}
