// detector-mock is a dev stand-in for the detection inference service. It
// implements the HTTP contract the monitor's detect client expects, with a
// wandering person box so motion-driven features have something to chew on.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
)

type bbox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type detection struct {
	Type       string  `json:"type"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       bbox    `json:"bbox"`
}

// walker drifts the person box around the frame between calls.
type walker struct {
	mu  sync.Mutex
	x   float64
	dir float64
}

func (w *walker) next() bbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.x += w.dir
	if w.x > 0.6 || w.x < 0.05 {
		w.dir = -w.dir
	}
	return bbox{X: w.x, Y: 0.3, Width: 0.12, Height: 0.45}
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	w := &walker{x: 0.1, dir: 0.02}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/detect", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{
			"detections": []detection{
				{Type: "object", Label: "person", Confidence: 0.97, BBox: w.next()},
			},
		})
	})

	mux.HandleFunc("/detect-fire", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{
			"fire_detected":   false,
			"fire_confidence": 0.01,
			"smoke_detected":  false,
		})
	})

	mux.HandleFunc("/detect-plates", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{"plates": []any{}})
	})

	mux.HandleFunc("/analyze-behavior", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{
			"behaviors":     []string{"walking"},
			"crowd_density": rand.Float64() * 0.3,
			"loitering":     false,
		})
	})

	mux.HandleFunc("/analyze-audio", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{
			"events":  []string{},
			"rms_db":  -42.0,
			"peak_db": -20.0,
		})
	})

	mux.HandleFunc("/extract-features", func(rw http.ResponseWriter, r *http.Request) {
		vec := make([]float64, 16)
		for i := range vec {
			vec[i] = rand.Float64()
		}
		writeJSON(rw, map[string]any{
			"features": []map[string]any{
				{"person_index": 0, "vector": vec, "bbox": w.next()},
			},
		})
	})

	mux.HandleFunc("/match-persons", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, map[string]any{"matches": []any{}})
	})

	log.Printf("Mock detector listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Printf("encode error: %v", err)
	}
}
