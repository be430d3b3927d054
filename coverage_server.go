package main

import (
	"net/http"
	"runtime/coverage"

	"k8s.io/klog/v2"
)

// startCoverageServer serves the coverage counters of a binary built with
// -cover, so that end-to-end runs of long lived commands such as watch can be
// measured without stopping them.
func startCoverageServer(addr string) {
	log := klog.Background().WithName("coverage")
	mux := http.NewServeMux()

	download := func(filename string, write func(w http.ResponseWriter) error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			log.Info("Coverage download requested", "file", filename)
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
			if err := write(w); err != nil {
				log.Error(err, "Writing coverage data", "file", filename)
			}
		}
	}
	mux.HandleFunc("/_debug/coverage/download", download("coverage.out", func(w http.ResponseWriter) error {
		return coverage.WriteCounters(w)
	}))
	mux.HandleFunc("/_debug/coverage/meta/download", download("coverage.meta", func(w http.ResponseWriter) error {
		return coverage.WriteMeta(w)
	}))

	go func() {
		log.Info("Starting coverage server", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error(err, "Coverage server failed")
		}
	}()
}
