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
	"strconv"

	"github.com/pingcap/errors"
	"github.com/unrolled/render"

	"github.com/fdbmem/fdbmem/kv/db"
	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// KeyValue is a key and its value in printable form.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RangeResponse is the result of a range read.
type RangeResponse struct {
	Version   uint64     `json:"version"`
	KeyValues []KeyValue `json:"kvs"`
	More      bool       `json:"more"`
}

type dataHandler struct {
	db *db.DB
	rd *render.Render
}

func newDataHandler(d *db.DB, rd *render.Render) *dataHandler {
	return &dataHandler{
		db: d,
		rd: rd,
	}
}

func (h *dataHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key, err := codec.ParsePrintable(query.Get("key"))
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	version, err := parseVersion(query.Get("version"))
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		resp  KeyValue
		found bool
	)
	err = h.read(version, func(txn *mvcc.Txn) error {
		value, err := txn.Get(key)
		if err != nil {
			return err
		}
		found = value != nil
		resp = KeyValue{Key: codec.Printable(key), Value: codec.Printable(value)}
		return nil
	})
	if err != nil {
		h.rd.JSON(w, statusOf(err), err.Error())
		return
	}
	if !found {
		h.rd.JSON(w, http.StatusNotFound, "key not found")
		return
	}
	h.rd.JSON(w, http.StatusOK, resp)
}

func (h *dataHandler) GetRange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	begin, err := codec.ParsePrintable(query.Get("begin"))
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	end := codec.MaxKey
	if s := query.Get("end"); s != "" {
		if end, err = codec.ParsePrintable(s); err != nil {
			h.rd.JSON(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	opts := mvcc.RangeOptions{}
	if s := query.Get("limit"); s != "" {
		if opts.Limit, err = strconv.Atoi(s); err != nil {
			h.rd.JSON(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if s := query.Get("reverse"); s != "" {
		if opts.Reverse, err = strconv.ParseBool(s); err != nil {
			h.rd.JSON(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	version, err := parseVersion(query.Get("version"))
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp RangeResponse
	err = h.read(version, func(txn *mvcc.Txn) error {
		result, err := txn.GetRange(mvcc.FirstGreaterOrEqual(begin), mvcc.FirstGreaterOrEqual(end), opts)
		if err != nil {
			return err
		}
		resp.Version, _ = txn.GetReadVersion()
		resp.More = result.More
		resp.KeyValues = make([]KeyValue, 0, len(result.KeyValues))
		for _, kv := range result.KeyValues {
			resp.KeyValues = append(resp.KeyValues, KeyValue{
				Key:   codec.Printable(kv.Key),
				Value: codec.Printable(kv.Value),
			})
		}
		return nil
	})
	if err != nil {
		h.rd.JSON(w, statusOf(err), err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, resp)
}

func (h *dataHandler) Dump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := h.db.Dump(w); err != nil {
		w.Write([]byte(err.Error()))
	}
}

func (h *dataHandler) Compact(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Compact()
	if err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, map[string]interface{}{
		"read_floor":        h.db.Oracle().Floor(),
		"removed_keys":      stats.Keys,
		"removed_revisions": stats.Revisions,
	})
}

func parseVersion(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, errors.Annotatef(err, "invalid version %q", s)
}

// read runs f in a read-only transaction at version, or at the current version when it is 0. Reads are
// not retried, a version that is too old or too new fails the request.
func (h *dataHandler) read(version uint64, f func(txn *mvcc.Txn) error) error {
	txn, err := h.db.BeginReadOnlyTransaction()
	if err != nil {
		return err
	}
	defer txn.Cancel()
	if version != 0 {
		if err := txn.SetReadVersion(version); err != nil {
			return err
		}
	}
	return f(txn)
}

func statusOf(err error) int {
	switch txnerr.CodeOf(err) {
	case txnerr.CodeTransactionTooOld, txnerr.CodeFutureVersion:
		return http.StatusGone
	case txnerr.CodeKeyOutsideLegalRange, txnerr.CodeInvertedRange, txnerr.CodeClientInvalidOperation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
