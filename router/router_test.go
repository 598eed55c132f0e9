package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	docHandler "docverify/internal/document"
	"docverify/internal/document/model"
	"docverify/internal/document/repository"
	"docverify/internal/document/service"
	"docverify/socket"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret         = "router-test-secret"
	abcFingerprint = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	docs := repository.NewMemoryDocumentRepository()
	steps := repository.NewMemoryStepRepository()

	svc := service.NewDocumentService(docs, steps, nil)
	h := docHandler.NewDocumentHandler(svc, service.NewQueryService(docs), 1<<20)
	hub := socket.NewHub(h.AuthorizeRoom, 0)
	svc.Notifier = hub

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(Setup(h, hub, secret, "*"))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

func (s *testServer) token(userID string, role model.Role) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       userID,
		"user_role": string(role),
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *http.Response {
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) upload(token, title, docType, tags string, content []byte) *http.Response {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("title", title))
	require.NoError(s.t, mw.WriteField("type", docType))
	require.NoError(s.t, mw.WriteField("tags", tags))
	fw, err := mw.CreateFormFile("file", "upload.bin")
	require.NoError(s.t, err)
	_, err = fw.Write(content)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, "/api/documents/upload", token, &buf, mw.FormDataContentType())
}

func (s *testServer) resolve(token, docID, decision, reason string) *http.Response {
	body, err := json.Marshal(model.ResolveRequest{DocID: docID, Decision: decision, Reason: reason})
	require.NoError(s.t, err)
	return s.do(http.MethodPost, "/api/admin/resolve", token, bytes.NewReader(body), "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestVerificationFlow(t *testing.T) {
	s := newTestServer(t)
	owner := s.token("u1", model.RoleUser)
	verifier := s.token("v1", model.RoleVerifier)

	resp := s.upload(owner, "Diploma", "Educational", "Edu, edu ,transcript", []byte("abc"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[model.Document](t, resp)
	assert.Equal(t, model.StatusPending, doc.Status)
	assert.Equal(t, abcFingerprint, doc.Fingerprint)
	assert.Equal(t, []string{"edu", "transcript"}, doc.Tags)

	// Same bytes under another title are still a duplicate.
	resp = s.upload(s.token("u2", model.RoleUser), "Copy", "Educational", "", []byte("abc"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, doc.ID, decode[model.ErrorResponse](t, resp).ExistingID)

	resp = s.do(http.MethodGet, "/api/documents/get?docId="+doc.ID, owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[model.DocumentDetail](t, resp)
	require.Len(t, detail.Steps, 4)
	assert.True(t, detail.Steps[0].Completed)
	assert.False(t, detail.Steps[3].Completed)

	resp = s.do(http.MethodGet, "/api/admin/queue", verifier, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue := decode[[]model.Document](t, resp)
	require.Len(t, queue, 1)
	assert.Equal(t, doc.ID, queue[0].ID)

	resp = s.resolve(verifier, doc.ID, "verified", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decode[model.Document](t, resp)
	assert.Equal(t, model.StatusVerified, resolved.Status)
	assert.Equal(t, "v1", resolved.VerifiedBy)

	resp = s.resolve(s.token("a1", model.RoleAdmin), doc.ID, "rejected", "late")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already resolved", decode[model.ErrorResponse](t, resp).Error)

	resp = s.do(http.MethodGet, "/api/documents/steps?docId="+doc.ID, owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps := decode[[]model.VerificationStep](t, resp)
	assert.True(t, model.LedgerComplete(steps))

	resp = s.do(http.MethodGet, "/api/verify?fingerprint=0x"+strings.ToUpper(abcFingerprint), "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	public := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "verified", public["status"])
	assert.NotContains(t, public, "owner_id")
	assert.NotContains(t, public, "verified_by")

	resp = s.do(http.MethodGet, "/api/analytics", owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusCounts{Verified: 1, Total: 1}, decode[model.StatusCounts](t, resp))

	resp = s.do(http.MethodGet, "/api/documents", owner, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Document](t, resp), 1)

	resp = s.do(http.MethodGet, "/api/admin/uploaders", verifier, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []model.OwnerCounts{{OwnerID: "u1", StatusCounts: model.StatusCounts{Verified: 1, Total: 1}}},
		decode[[]model.OwnerCounts](t, resp))
}

func TestRejectFlowKeepsLedger(t *testing.T) {
	s := newTestServer(t)
	owner := s.token("u1", model.RoleUser)
	resp := s.upload(owner, "Deed", "Legal", "", []byte("deed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[model.Document](t, resp)

	resp = s.resolve(s.token("v1", model.RoleVerifier), doc.ID, "rejected", "forged seal")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "forged seal", decode[model.Document](t, resp).RejectionReason)

	resp = s.do(http.MethodGet, "/api/documents/steps?docId="+doc.ID, owner, nil, "")
	steps := decode[[]model.VerificationStep](t, resp)
	assert.True(t, steps[0].Completed)
	assert.False(t, steps[1].Completed)
}

func TestAccessRules(t *testing.T) {
	s := newTestServer(t)
	owner := s.token("u1", model.RoleUser)
	stranger := s.token("u2", model.RoleUser)

	resp := s.upload(owner, "Diploma", "Educational", "", []byte("abc"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[model.Document](t, resp)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"no token", http.MethodGet, "/api/documents", "", http.StatusUnauthorized},
		{"stranger sees 404", http.MethodGet, "/api/documents/get?docId=" + doc.ID, stranger, http.StatusNotFound},
		{"stranger steps 404", http.MethodGet, "/api/documents/steps?docId=" + doc.ID, stranger, http.StatusNotFound},
		{"verifier sees any", http.MethodGet, "/api/documents/get?docId=" + doc.ID, s.token("v1", model.RoleVerifier), http.StatusOK},
		{"missing docId", http.MethodGet, "/api/documents/get", owner, http.StatusBadRequest},
		{"unknown doc", http.MethodGet, "/api/documents/get?docId=nope", owner, http.StatusNotFound},
		{"queue needs role", http.MethodGet, "/api/admin/queue", owner, http.StatusForbidden},
		{"resolve needs role", http.MethodPost, "/api/admin/resolve", owner, http.StatusForbidden},
		{"uploaders needs role", http.MethodGet, "/api/admin/uploaders", owner, http.StatusForbidden},
		{"wrong method", http.MethodPost, "/api/documents", owner, http.StatusMethodNotAllowed},
		{"malformed fingerprint", http.MethodGet, "/api/verify?fingerprint=xyz", "", http.StatusNotFound},
		{"unknown fingerprint", http.MethodGet, "/api/verify?fingerprint=" + strings.Repeat("f", 64), "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.do(tc.method, tc.path, tc.token, nil, "")
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestUploadAndResolveValidation(t *testing.T) {
	s := newTestServer(t)
	owner := s.token("u1", model.RoleUser)
	verifier := s.token("v1", model.RoleVerifier)

	assert.Equal(t, http.StatusBadRequest, s.upload(owner, "", "Legal", "", []byte("x")).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.upload(owner, "Deed", "Legal", "", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.upload(owner, "Big", "Legal", "", bytes.Repeat([]byte("x"), 1<<20+1)).StatusCode)

	resp := s.do(http.MethodPost, "/api/documents/upload", owner, strings.NewReader("not multipart"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.upload(owner, "Deed", "Legal", "", []byte("deed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[model.Document](t, resp)

	assert.Equal(t, http.StatusBadRequest, s.resolve(verifier, doc.ID, "approve", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.resolve(verifier, "", "verified", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, s.resolve(verifier, "missing", "verified", "").StatusCode)

	resp = s.do(http.MethodPost, "/api/admin/resolve", verifier, strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(http.MethodOptions, "/api/admin/resolve", "", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketReceivesWorkflowEvents(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+s.token("u1", model.RoleUser), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+s.token("v1", model.RoleVerifier), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() socket.WSMessage {
		var msg socket.WSMessage
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, socket.PresenceUpdateType, read().Type)

	resp = s.upload(s.token("u1", model.RoleUser), "Diploma", "Educational", "", []byte("abc"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[model.Document](t, resp)

	msg := read()
	assert.Equal(t, socket.DocumentSubmittedType, msg.Type)
	assert.Equal(t, doc.ID, msg.DocID)

	require.Equal(t, http.StatusOK, s.resolve(s.token("v1", model.RoleVerifier), doc.ID, "verified", "").StatusCode)
	msg = read()
	assert.Equal(t, socket.DocumentResolvedType, msg.Type)
	assert.Equal(t, doc.ID, msg.DocID)
}
