package handlers

import (
	"io"
	"net/http"
	"testing"

	"github.com/skydisk/backend/internal/models"
)

func shareEntry(t *testing.T, env *testEnv, token, id string) string {
	t.Helper()

	resp := performRequest(t, env.app, http.MethodPost, "/api/files/"+id+"/share", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	data := dataMap(t, decodeJSONMap(t, resp))
	key, _ := data["key"].(string)
	if key == "" {
		t.Fatal("expected a share key")
	}
	return key
}

func TestShareListIsPublic(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	file := uploadFile(t, env, token, "", "a.txt", "shared data")
	id, _ := file["id"].(string)
	key := shareEntry(t, env, token, id)

	// No Authorization header at all.
	resp := performRequest(t, env.app, http.MethodGet, "/api/shares/"+key, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	entries := dataList(t, decodeJSONMap(t, resp))
	if len(entries) != 1 {
		t.Fatalf("expected one shared entry, got %d", len(entries))
	}
	first, _ := entries[0].(map[string]any)
	if first["name"] != "a.txt" || first["state"] != string(models.EntryStateShared) {
		t.Fatalf("unexpected shared entry: %+v", first)
	}
}

func TestShareUnknownKeyIs404(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/shares/nosuchkey", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSharedDownloadWithoutLogin(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	file := uploadFile(t, env, token, "", "a.txt", "anyone can read this")
	id, _ := file["id"].(string)
	key := shareEntry(t, env, token, id)

	resp := performRequest(t, env.app, http.MethodGet, "/api/shares/"+key, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	entries := dataList(t, decodeJSONMap(t, resp))
	shared, _ := entries[0].(map[string]any)
	sharedID, _ := shared["id"].(string)

	resp = performRequest(t, env.app, http.MethodGet, "/api/shares/"+key+"/files/"+sharedID+"/download", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("failed reading shared download: %v", err)
	}
	if string(body) != "anyone can read this" {
		t.Fatalf("expected shared content, got %q", string(body))
	}
}

func TestSharedDownloadEnforcesKeyMatch(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	first := uploadFile(t, env, token, "", "a.txt", "a")
	second := uploadFile(t, env, token, "", "b.txt", "b")
	firstID, _ := first["id"].(string)
	secondID, _ := second["id"].(string)

	firstKey := shareEntry(t, env, token, firstID)
	otherKey := shareEntry(t, env, token, secondID)

	resp := performRequest(t, env.app, http.MethodGet, "/api/shares/"+firstKey, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	entries := dataList(t, decodeJSONMap(t, resp))
	shared, _ := entries[0].(map[string]any)
	firstSharedID, _ := shared["id"].(string)

	// An id from one share is invisible through another share's key.
	resp = performRequest(t, env.app, http.MethodGet, "/api/shares/"+otherKey+"/files/"+firstSharedID+"/download", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestBatchShare(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	a := uploadFile(t, env, token, "", "a.txt", "a")
	b := uploadFile(t, env, token, "", "b.txt", "b")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/files/share", map[string]any{
		"ids": []any{a["id"], b["id"]},
	}, authHeaders(token))
	assertStatus(t, resp, http.StatusCreated)
	data := dataMap(t, decodeJSONMap(t, resp))
	key, _ := data["key"].(string)

	resp = performRequest(t, env.app, http.MethodGet, "/api/shares/"+key, nil, nil)
	assertStatus(t, resp, http.StatusOK)
	entries := dataList(t, decodeJSONMap(t, resp))
	if len(entries) != 2 {
		t.Fatalf("expected two shared entries, got %d", len(entries))
	}
}

func TestSaveSharedRequiresLogin(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	file := uploadFile(t, env, token, "", "a.txt", "x")
	id, _ := file["id"].(string)
	key := shareEntry(t, env, token, id)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/shares/"+key+"/save", map[string]any{
		"ids": []any{id},
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestSaveSharedIntoOwnTree(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)
	_, visitorToken := createTestUser(t, env.db, "visitor@example.com", "password123", models.UserRoleUser)

	file := uploadFile(t, env, ownerToken, "", "a.txt", "from the share")
	id, _ := file["id"].(string)
	key := shareEntry(t, env, ownerToken, id)

	resp := performRequest(t, env.app, http.MethodGet, "/api/shares/"+key, nil, nil)
	entries := dataList(t, decodeJSONMap(t, resp))
	shared, _ := entries[0].(map[string]any)
	sharedID, _ := shared["id"].(string)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/shares/"+key+"/save", map[string]any{
		"ids":  []any{sharedID},
		"path": "/",
	}, authHeaders(visitorToken))
	assertStatus(t, resp, http.StatusCreated)

	resp = performRequest(t, env.app, http.MethodGet, "/api/files/?path=/", nil, authHeaders(visitorToken))
	assertStatus(t, resp, http.StatusOK)
	mine := dataList(t, decodeJSONMap(t, resp))
	if len(mine) != 1 {
		t.Fatalf("expected the saved copy in the visitor's root, got %d entries", len(mine))
	}
	saved, _ := mine[0].(map[string]any)
	if saved["name"] != "a.txt" || saved["state"] != string(models.EntryStateActive) {
		t.Fatalf("unexpected saved entry: %+v", saved)
	}
}

func TestCancelShare(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	file := uploadFile(t, env, token, "", "a.txt", "x")
	id, _ := file["id"].(string)
	key := shareEntry(t, env, token, id)

	resp := performRequest(t, env.app, http.MethodGet, "/api/shares/"+key, nil, nil)
	entries := dataList(t, decodeJSONMap(t, resp))
	shared, _ := entries[0].(map[string]any)
	sharedID, _ := shared["id"].(string)

	resp = performRequest(t, env.app, http.MethodDelete, "/api/files/"+sharedID+"/share", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	resp = performRequest(t, env.app, http.MethodGet, "/api/shares/"+key, nil, nil)
	assertStatus(t, resp, http.StatusNotFound)

	// The original file is still there.
	resp = performRequest(t, env.app, http.MethodGet, "/api/files/"+id, nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
}

func TestCancelShareRejectsLiveEntry(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "owner@example.com", "password123", models.UserRoleUser)

	file := uploadFile(t, env, token, "", "a.txt", "x")
	id, _ := file["id"].(string)

	resp := performRequest(t, env.app, http.MethodDelete, "/api/files/"+id+"/share", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusBadRequest)
}
