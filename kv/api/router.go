// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"

	"github.com/fdbmem/fdbmem/kv/db"
)

const apiPrefix = "/fdbmem"

func createRouter(prefix string, d *db.DB) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	router := mux.NewRouter().PathPrefix(prefix).Subrouter()

	statusHandler := newStatusHandler(d, rd)
	router.HandleFunc("/api/v1/status", statusHandler.Get).Methods("GET")
	router.HandleFunc("/api/v1/config", statusHandler.GetConfig).Methods("GET")

	dataHandler := newDataHandler(d, rd)
	router.HandleFunc("/api/v1/key", dataHandler.GetKey).Methods("GET")
	router.HandleFunc("/api/v1/range", dataHandler.GetRange).Methods("GET")
	router.HandleFunc("/api/v1/dump", dataHandler.Dump).Methods("GET")
	router.HandleFunc("/api/v1/compact", dataHandler.Compact).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")

	return router
}

// NewHandler returns the debug HTTP handler of d. Every route lives under /fdbmem.
func NewHandler(d *db.DB) http.Handler {
	engine := negroni.New()
	engine.Use(negroni.NewRecovery())
	engine.UseHandler(createRouter(apiPrefix, d))
	return engine
}
