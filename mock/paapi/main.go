package main

import (
	_ "embed"
	"log"
	"net/http"
	"strings"
	"time"
)

//go:embed search.json
var searchData []byte

//go:embed items.json
var itemsData []byte

//go:embed browsenodes.json
var browseNodesData []byte

func main() {
	http.HandleFunc("/paapi5/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"Errors":[{"Code":"InvalidMethod","Message":"POST required"}]}`, http.StatusMethodNotAllowed)
			return
		}

		// Simulate network latency (50-200ms)
		time.Sleep(time.Duration(50+time.Now().UnixNano()%150) * time.Millisecond)

		var body []byte
		switch {
		case strings.HasSuffix(r.URL.Path, "searchitems"):
			body = searchData
		case strings.HasSuffix(r.URL.Path, "getitems"), strings.HasSuffix(r.URL.Path, "getvariations"):
			body = itemsData
		case strings.HasSuffix(r.URL.Path, "getbrowsenodes"):
			body = browseNodesData
		default:
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Provider", "paapi")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			log.Printf("[PA-API] Write error: %v", err)
		}

		log.Printf("[PA-API] %s %s - 200 OK", r.Method, r.URL.Path)
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			log.Printf("[PA-API] Health write error: %v", err)
		}
	})

	log.Println("Mock PA-API running on :8081")
	server := &http.Server{
		Addr:         ":8081",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
