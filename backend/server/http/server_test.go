package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRooms struct {
	rooms []model.Room
	conns int
}

func (s staticRooms) Rooms() []model.Room {
	return s.rooms
}

func (s staticRooms) MembersOf(roomID string) []string {
	for _, r := range s.rooms {
		if r.ID == roomID {
			return r.Members
		}
	}
	return []string{}
}

func (s staticRooms) Count() int {
	return s.conns
}

func newTestServer(rooms RoomLister) *Server {
	logger := zerolog.Nop()
	return NewServer(Config{Logger: &logger, Rooms: rooms})
}

func doRequest(t *testing.T, srv *Server, method, target string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(method, target, nil))

	var resp GenericResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestServer(t *testing.T) {
	srv := newTestServer(staticRooms{
		rooms: []model.Room{
			{ID: "G1", Members: []string{"c1", "c2"}},
			{ID: "G2", Members: []string{"c3"}},
		},
		conns: 4,
	})

	tests := []struct {
		name   string
		method string
		target string
		code   int
		want   string
	}{
		{
			name:   "list rooms",
			method: http.MethodGet,
			target: "/api/rooms",
			code:   http.StatusOK,
			want:   `{"data":[{"room_id":"G1","members":["c1","c2"]},{"room_id":"G2","members":["c3"]}]}`,
		},
		{
			name:   "get room",
			method: http.MethodGet,
			target: "/api/rooms/G2",
			code:   http.StatusOK,
			want:   `{"data":{"room_id":"G2","members":["c3"]}}`,
		},
		{
			name:   "room not found",
			method: http.MethodGet,
			target: "/api/rooms/G9",
			code:   http.StatusNotFound,
			want:   `{"error":"room not found"}`,
		},
		{
			name:   "health",
			method: http.MethodGet,
			target: "/api/healthz",
			code:   http.StatusOK,
			want:   `{"message":"OK","data":{"connections":4,"rooms":2}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := doRequest(t, srv, tt.method, tt.target)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestServer_EmptyRooms(t *testing.T) {
	srv := newTestServer(staticRooms{rooms: []model.Room{}})

	w, resp := doRequest(t, srv, http.MethodGet, "/api/rooms")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Error)
}

func TestServer_CORS(t *testing.T) {
	srv := newTestServer(staticRooms{})

	w, _ := doRequest(t, srv, http.MethodOptions, "/api/rooms")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
