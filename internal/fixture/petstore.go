// Package fixture serves the systems the bundled suites run against: a
// pet-store API and the registration page, plus the page behaviors the
// in-memory browser needs to emulate the page's scripts.
package fixture

import (
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

//go:embed site
var site embed.FS

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Pet struct {
	ID        int64     `json:"id"`
	Category  *Category `json:"category,omitempty"`
	Name      string    `json:"name"`
	PhotoURLs []string  `json:"photoUrls"`
	Tags      []Tag     `json:"tags,omitempty"`
	Status    string    `json:"status,omitempty"`
}

var validStatus = map[string]bool{"available": true, "pending": true, "sold": true}

// PetStore is an in-memory pet-store API.
type PetStore struct {
	mu     sync.Mutex
	pets   map[int64]Pet
	nextID int64
}

func NewPetStore() *PetStore {
	s := &PetStore{pets: map[int64]Pet{}, nextID: 1000}
	for _, p := range []Pet{
		{ID: 1, Name: "Rex", Status: "available", PhotoURLs: []string{}, Category: &Category{ID: 1, Name: "Dogs"}},
		{ID: 2, Name: "Tom", Status: "available", PhotoURLs: []string{}, Category: &Category{ID: 2, Name: "Cats"}},
		{ID: 3, Name: "Nemo", Status: "pending", PhotoURLs: []string{}},
		{ID: 4, Name: "Polly", Status: "sold", PhotoURLs: []string{}},
	} {
		s.pets[p.ID] = p
	}
	return s
}

func (s *PetStore) Routes(r chi.Router) {
	r.Route("/v2/pet", func(r chi.Router) {
		r.Post("/", s.handleUpsert)
		r.Put("/", s.handleUpsert)
		r.Get("/findByStatus", s.handleFindByStatus)
		r.Get("/{petId}", s.handleGet)
		r.Delete("/{petId}", s.handleDelete)
	})
}

func (s *PetStore) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var p Pet
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Name == "" {
		writeJSON(w, http.StatusMethodNotAllowed, apiMessage(405, "Invalid input"))
		return
	}
	if p.Status != "" && !validStatus[p.Status] {
		writeJSON(w, http.StatusMethodNotAllowed, apiMessage(405, "Invalid status"))
		return
	}
	if p.PhotoURLs == nil {
		p.PhotoURLs = []string{}
	}
	s.mu.Lock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	}
	s.pets[p.ID] = p
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, p)
}

func (s *PetStore) handleFindByStatus(w http.ResponseWriter, r *http.Request) {
	want := map[string]bool{}
	for _, v := range r.URL.Query()["status"] {
		for _, st := range strings.Split(v, ",") {
			st = strings.TrimSpace(st)
			if !validStatus[st] {
				writeJSON(w, http.StatusBadRequest, apiMessage(400, "Invalid status value"))
				return
			}
			want[st] = true
		}
	}
	s.mu.Lock()
	out := make([]Pet, 0, len(s.pets))
	for _, p := range s.pets {
		if want[p.Status] {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *PetStore) lookup(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "petId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiMessage(400, "Invalid ID supplied"))
		return 0, false
	}
	return id, true
}

func (s *PetStore) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.pets[id]
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, apiMessage(1, "Pet not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *PetStore) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.pets[id]
	delete(s.pets, id)
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, apiMessage(1, "Pet not found"))
		return
	}
	writeJSON(w, http.StatusOK, apiMessage(200, strconv.FormatInt(id, 10)))
}

func apiMessage(code int, msg string) map[string]any {
	return map[string]any{"code": code, "type": "unknown", "message": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---- Server ----

// Countries is the payload served for the countries endpoint.
var Countries = []map[string]string{
	{"name": "United States of America", "capital": "Washington D.C."},
	{"name": "Canada", "capital": "Ottawa"},
	{"name": "Mexico", "capital": "Mexico City"},
	{"name": "India", "capital": "New Delhi"},
	{"name": "Australia", "capital": "Canberra"},
	{"name": "France", "capital": "Paris"},
	{"name": "Germany", "capital": "Berlin"},
	{"name": "Japan", "capital": "Tokyo"},
}

// NewHandler serves the pet store under /v2, the registration page, its
// countries and registration endpoints, and the pet-store OpenAPI document.
func NewHandler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Debug("fixture request", slog.String("method", req.Method), slog.String("path", req.URL.Path))
			next.ServeHTTP(w, req)
		})
	})
	NewPetStore().Routes(r)

	r.Get("/Register.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(RegisterHTML))
	})
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(PetStoreOpenAPI())
	})
	r.Get("/rest/v1/all", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeJSON(w, http.StatusOK, Countries)
	})
	r.HandleFunc("/api/1/databases/{db}/collections/{coll}", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("apiKey") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Please provide a valid API key."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "User registered successfully!"})
	})
	return r
}

// PetStoreOpenAPI returns the OpenAPI document of the pet-store subset.
func PetStoreOpenAPI() []byte {
	b, err := site.ReadFile("site/petstore.openapi.yaml")
	if err != nil {
		panic(err)
	}
	return b
}
