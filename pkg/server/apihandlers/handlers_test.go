package apihandlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getzep/clipserve/pkg/clip"
	"github.com/getzep/clipserve/pkg/imageresolver"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/observability"
	"github.com/getzep/clipserve/pkg/testutils"
)

func newTestAppState(t *testing.T, model models.ClipModel) *models.AppState {
	t.Helper()
	pool := clip.NewPool(2)
	t.Cleanup(pool.Close)
	metrics := observability.NewMetrics()

	return &models.AppState{
		EmbeddingService: clip.NewService(model, pool, metrics),
		ImageResolver:    imageresolver.NewResolver(time.Second, 1<<20, 4_000_000),
		Metrics:          metrics,
		Config:           testutils.NewTestConfig(),
	}
}

// countingImageServer serves a png of c at every path and counts requests.
func countingImageServer(t *testing.T, c color.Color) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := &atomic.Int64{}
	body := testutils.PNGBytes(testutils.SolidImage(16, 16, c))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.False(t, resp.Success)
	return resp
}

func TestImageEmbeddingHandler(t *testing.T) {
	appState := newTestAppState(t, testutils.NewAnimalModel())
	handler := ImageEmbeddingHandler(appState)
	srv, hits := countingImageServer(t, testutils.DogColor)

	t.Run("base64", func(t *testing.T) {
		rr := postJSON(t, handler, models.ImageEmbeddingRequest{
			ImageBase64: testutils.PNGBase64(testutils.SolidImage(4, 4, testutils.CatColor)),
		})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var resp models.EmbeddingResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, models.EmbeddingVector{0.9, 0.2, 0.1, 0.1}, resp.Embedding)
	})

	t.Run("data uri", func(t *testing.T) {
		rr := postJSON(t, handler, models.ImageEmbeddingRequest{
			ImageBase64: "data:image/png;base64," +
				testutils.PNGBase64(testutils.SolidImage(4, 4, testutils.BirdColor)),
		})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.EmbeddingResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, models.EmbeddingVector{0.1, 0.2, 0.9, 0.1}, resp.Embedding)
	})

	t.Run("url", func(t *testing.T) {
		before := hits.Load()
		rr := postJSON(t, handler, models.ImageEmbeddingRequest{ImageURL: srv.URL + "/dog.png"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, before+1, hits.Load())

		var resp models.EmbeddingResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, models.EmbeddingVector{0.2, 0.9, 0.1, 0.1}, resp.Embedding)
	})

	t.Run("multipart upload", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "cat.png")
		require.NoError(t, err)
		_, err = fw.Write(testutils.PNGBytes(testutils.SolidImage(4, 4, testutils.CatColor)))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		handler(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.EmbeddingResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, models.EmbeddingVector{0.9, 0.2, 0.1, 0.1}, resp.Embedding)
	})

	t.Run("multipart form field", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("image_url", srv.URL+"/dog.png"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		handler(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("multipart without source", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		handler(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "file")
	})

	errorCases := []struct {
		name   string
		body   any
		status int
		prefix string
	}{
		{"no source", models.ImageEmbeddingRequest{}, http.StatusBadRequest, "validation error: "},
		{
			"both sources",
			models.ImageEmbeddingRequest{
				ImageURL:    srv.URL + "/dog.png",
				ImageBase64: testutils.PNGBase64(testutils.SolidImage(2, 2, color.White)),
			},
			http.StatusBadRequest,
			"validation error: ",
		},
		{
			"malformed base64",
			models.ImageEmbeddingRequest{ImageBase64: "not-base64-!!"},
			http.StatusBadRequest,
			"decode error: ",
		},
		{
			"base64 of non-image",
			models.ImageEmbeddingRequest{ImageBase64: "aGVsbG8gd29ybGQ="},
			http.StatusBadRequest,
			"decode error: ",
		},
		{
			"unreachable url",
			models.ImageEmbeddingRequest{ImageURL: "http://127.0.0.1:1/cat.png"},
			http.StatusBadRequest,
			"fetch error: ",
		},
		{"invalid json", "{not json", http.StatusBadRequest, "validation error: "},
		{"empty body", "", http.StatusBadRequest, "validation error: "},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postJSON(t, handler, tc.body)
			require.Equal(t, tc.status, rr.Code)
			assert.Contains(t, decodeError(t, rr).Detail, tc.prefix)
		})
	}

	t.Run("model failure", func(t *testing.T) {
		model := testutils.NewStubModel(4)
		model.Err = errors.New("cuda out of memory")
		handler := ImageEmbeddingHandler(newTestAppState(t, model))

		rr := postJSON(t, handler, models.ImageEmbeddingRequest{
			ImageBase64: testutils.PNGBase64(testutils.SolidImage(2, 2, color.White)),
		})
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		detail := decodeError(t, rr).Detail
		assert.Contains(t, detail, "internal error: ")
		assert.Contains(t, detail, "cuda out of memory")
	})
}

func TestTextEmbeddingHandler(t *testing.T) {
	model := testutils.NewAnimalModel()
	handler := TextEmbeddingHandler(newTestAppState(t, model))

	rr := postJSON(t, handler, models.TextEmbeddingRequest{Text: "cat"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.EmbeddingResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, models.EmbeddingVector{1, 0, 0, 0}, resp.Embedding)

	for _, body := range []any{
		models.TextEmbeddingRequest{},
		models.TextEmbeddingRequest{Text: "  "},
		map[string]any{"text": 42},
	} {
		rr := postJSON(t, handler, body)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "validation error: ")
	}
	assert.Equal(t, int64(1), model.TextCalls.Load())
}

func TestMatchHandler(t *testing.T) {
	model := testutils.NewAnimalModel()
	handler := MatchHandler(newTestAppState(t, model))
	srv, hits := countingImageServer(t, testutils.CatColor)

	t.Run("url", func(t *testing.T) {
		rr := postJSON(t, handler, models.MatchRequest{
			Texts:    []string{"cat", "dog", "bird"},
			ImageURL: srv.URL + "/cat.png",
		})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.MatchResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Success)
		require.Len(t, resp.Scores, 3)

		var sum float64
		for label, score := range resp.Scores {
			assert.GreaterOrEqual(t, score, 0.0, label)
			assert.LessOrEqual(t, score, 1.0, label)
			sum += score
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
		assert.Greater(t, resp.Scores["cat"], resp.Scores["dog"])
		assert.Greater(t, resp.Scores["cat"], resp.Scores["bird"])
	})

	t.Run("base64 with repeated texts", func(t *testing.T) {
		rr := postJSON(t, handler, models.MatchRequest{
			Texts:       []string{"bird", "dog", "bird"},
			ImageBase64: testutils.PNGBase64(testutils.SolidImage(4, 4, testutils.BirdColor)),
		})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.MatchResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Scores, 2)
		assert.Greater(t, resp.Scores["bird"], resp.Scores["dog"])
	})

	t.Run("single text", func(t *testing.T) {
		rr := postJSON(t, handler, models.MatchRequest{
			Texts:    []string{"dog"},
			ImageURL: srv.URL + "/cat.png",
		})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp models.MatchResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.InDelta(t, 1.0, resp.Scores["dog"], 1e-9)
	})

	t.Run("invalid texts are rejected before fetching", func(t *testing.T) {
		for _, texts := range [][]string{nil, {}, {"cat", ""}, {"   "}} {
			before := hits.Load()
			imageCalls := model.ImageCalls.Load()

			rr := postJSON(t, handler, models.MatchRequest{
				Texts:    texts,
				ImageURL: srv.URL + "/cat.png",
			})
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, decodeError(t, rr).Detail, "validation error: ")
			assert.Equal(t, before, hits.Load())
			assert.Equal(t, imageCalls, model.ImageCalls.Load())
		}
	})

	t.Run("no image source", func(t *testing.T) {
		rr := postJSON(t, handler, models.MatchRequest{Texts: []string{"cat"}})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "validation error: ")
	})

	t.Run("fetch failure", func(t *testing.T) {
		rr := postJSON(t, handler, models.MatchRequest{
			Texts:    []string{"cat"},
			ImageURL: "http://127.0.0.1:1/cat.png",
		})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "fetch error: ")
	})

	t.Run("model failure", func(t *testing.T) {
		failing := testutils.NewStubModel(4)
		failing.Err = errors.New("boom")
		handler := MatchHandler(newTestAppState(t, failing))

		rr := postJSON(t, handler, models.MatchRequest{
			Texts:       []string{"cat"},
			ImageBase64: testutils.PNGBase64(testutils.SolidImage(2, 2, color.Black)),
		})
		require.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, decodeError(t, rr).Detail, "internal error: ")
	})
}

func TestValidateMatchRequest(t *testing.T) {
	tests := []struct {
		name   string
		texts  []string
		detail string
	}{
		{"ok", []string{"cat", "dog"}, ""},
		{"missing", nil, "validation error: texts must not be empty"},
		{"empty list", []string{}, "validation error: texts must not be empty"},
		{"empty element", []string{"cat", ""}, "validation error: texts[1] must not be empty"},
		{"blank element", []string{"   ", "dog"}, "validation error: texts[0] must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMatchRequest(models.MatchRequest{Texts: tt.texts})
			if tt.detail == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.EqualError(t, err, tt.detail)
		})
	}
}
