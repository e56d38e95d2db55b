package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecine/models"
)

const dinerJSON = `{
	"name": "Deep Space Diner",
	"premiered": "2019-04-01",
	"summary": "<p>A diner at the <b>edge</b> of known space.</p>",
	"image": {"medium": "https://img.example/m.jpg", "original": "https://img.example/o.jpg"}
}`

func TestEnrichFillsShowFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/singlesearch/shows", r.URL.Path)
		assert.Equal(t, "Deep Space Diner", r.URL.Query().Get("q"))
		w.Write([]byte(dinerJSON))
	}))
	defer srv.Close()

	show := models.Show{Name: "Deep Space Diner"}
	err := NewClient(srv.URL, srv.Client()).Enrich(context.Background(), &show)
	require.NoError(t, err)

	assert.Equal(t, "A diner at the edge of known space.", show.Overview)
	assert.Equal(t, "https://img.example/o.jpg", show.Poster)
	assert.Equal(t, "2019-04-01", show.Premiere)
}

func TestEnrichKeepsExistingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(dinerJSON))
	}))
	defer srv.Close()

	show := models.Show{Name: "Deep Space Diner", Overview: "hand-written"}
	err := NewClient(srv.URL, srv.Client()).Enrich(context.Background(), &show)
	require.NoError(t, err)
	assert.Equal(t, "hand-written", show.Overview)
}

func TestEnrichNoMatchLeavesShowUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	show := models.Show{Name: "Totally Unknown"}
	err := NewClient(srv.URL, srv.Client()).Enrich(context.Background(), &show)
	require.NoError(t, err)
	assert.Empty(t, show.Overview)
	assert.Empty(t, show.Poster)
}

func TestEnrichRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(dinerJSON))
	}))
	defer srv.Close()

	show := models.Show{Name: "Deep Space Diner"}
	err := NewClient(srv.URL, srv.Client()).Enrich(context.Background(), &show)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "2019-04-01", show.Premiere)
}

func TestEnrichDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	show := models.Show{Name: "Deep Space Diner"}
	err := NewClient(srv.URL, srv.Client()).Enrich(context.Background(), &show)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "plain", stripTags("plain"))
	assert.Equal(t, "a b", stripTags("<p>a <i>b</i></p>"))
	assert.Equal(t, "", stripTags("<br/>"))
}
