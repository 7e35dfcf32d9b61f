package main

import (
	_ "embed"
	"log"
	"net/http"
	"time"
)

//go:embed product.json
var productData []byte

//go:embed search.json
var searchData []byte

// responses maps a request type to its canned payload.
var responses = map[string][]byte{
	"product":      productData,
	"search":       searchData,
	"bestsellers":  searchData,
	"new_releases": searchData,
	"offers":       productData,
	"reviews":      productData,
	"category":     searchData,
}

func main() {
	http.HandleFunc("/request", func(w http.ResponseWriter, r *http.Request) {
		// Simulate network latency (100-300ms)
		time.Sleep(time.Duration(100+time.Now().UnixNano()%200) * time.Millisecond)

		if r.URL.Query().Get("api_key") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"request_info":{"success":false,"message":"missing api_key"}}`))
			return
		}

		reqType := r.URL.Query().Get("type")
		body, ok := responses[reqType]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"request_info":{"success":false,"message":"unknown request type"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Provider", "rainforest")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			log.Printf("[Rainforest] Write error: %v", err)
		}

		log.Printf("[Rainforest] %s type=%s - 200 OK", r.Method, reqType)
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			log.Printf("[Rainforest] Health write error: %v", err)
		}
	})

	log.Println("Mock Rainforest running on :8082")
	server := &http.Server{
		Addr:         ":8082",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
