package servicenow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRecord(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"sys_id": "cat-1",
				"name":   "Laptop Request",
				"active": "true",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qa-bot", "secret", 5*time.Second)
	rec, err := c.GetRecord(context.Background(), "sc_cat_item", "cat-1", []string{"sys_id", "name", "active"})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "/api/now/table/sc_cat_item/cat-1", gotPath)
	assert.NotEmpty(t, gotAuth, "basic auth header must be set")
	assert.Equal(t, "Laptop Request", rec.GetString("name"))
	assert.True(t, rec.GetBool("active"))
}

func TestGetRecordNotFoundReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No Record found"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qa-bot", "secret", 5*time.Second)
	rec, err := c.GetRecord(context.Background(), "sc_cat_item", "missing", nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetRecordServerErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qa-bot", "secret", 5*time.Second)
	_, err := c.GetRecord(context.Background(), "sc_cat_item", "cat-1", nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestQueryTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "target_instance=uat^state=completed", r.URL.Query().Get("sysparm_query"))
		assert.Equal(t, "1", r.URL.Query().Get("sysparm_limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"sys_id": "clone-1", "last_completed_time": "2026-08-01 03:15:00"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qa-bot", "secret", 5*time.Second)
	records, err := c.QueryTable(context.Background(), "sys_clone_history", "target_instance=uat^state=completed", 1, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "clone-1", records[0].GetString("sys_id"))
}

func TestPostWorkNote(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"sys_id": "chg-1"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qa-bot", "secret", 5*time.Second)
	err := c.PostWorkNote(context.Background(), "chg-1", "Validation PASSED")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/api/now/table/change_request/chg-1", gotPath)
	assert.Equal(t, "Validation PASSED", gotBody["work_notes"])
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"name":     "LDAP Main",
		"category": map[string]any{"display_value": "Hardware", "value": "hw-sys-id"},
		"active":   "1",
		"listener": true,
		"when":     "2026-08-15 10:30:00",
		"empty":    nil,
	}

	assert.Equal(t, "LDAP Main", rec.GetString("name"))
	assert.Equal(t, "Hardware", rec.GetString("category"))
	assert.Equal(t, "", rec.GetString("empty"))
	assert.Equal(t, "", rec.GetString("absent"))
	assert.True(t, rec.GetBool("active"))
	assert.True(t, rec.GetBool("listener"))
	assert.False(t, rec.GetBool("absent"))

	ts := rec.GetTime("when")
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC), *ts)
	assert.Nil(t, rec.GetTime("empty"))
}
