// Copyright 2017 PingCAP, Inc.
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

	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/mem"
	"github.com/unrolled/render"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/db"
)

type status struct {
	APIVersion    string `json:"api_version"`
	Version       uint64 `json:"version"`
	ReadFloor     uint64 `json:"read_floor"`
	ActiveReaders int    `json:"active_readers"`
	Keys          int    `json:"keys"`
	Entries       int    `json:"entries"`
	Revisions     int    `json:"revisions"`
	// Host memory, omitted when it cannot be read.
	MemoryTotal uint64  `json:"memory_total,omitempty"`
	MemoryUsed  float64 `json:"memory_used_percent,omitempty"`
}

type statusHandler struct {
	db *db.DB
	rd *render.Render
}

func newStatusHandler(d *db.DB, rd *render.Render) *statusHandler {
	return &statusHandler{
		db: d,
		rd: rd,
	}
}

func (h *statusHandler) Get(w http.ResponseWriter, r *http.Request) {
	oracle := h.db.Oracle()
	stats := h.db.Store().Stats()
	s := status{
		APIVersion:    db.APIVersion.String(),
		Version:       oracle.CurrentVersion(),
		ReadFloor:     oracle.Floor(),
		ActiveReaders: oracle.ActiveReaders(),
		Keys:          stats.Keys,
		Entries:       stats.Entries,
		Revisions:     stats.Revisions,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.UsedPercent
	} else {
		log.Warn("failed to read host memory", zap.Error(err))
	}
	h.rd.JSON(w, http.StatusOK, s)
}

func (h *statusHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.db.Config())
}
