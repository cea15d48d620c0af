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
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/pingcap/check"

	"github.com/fdbmem/fdbmem/kv/config"
	"github.com/fdbmem/fdbmem/kv/db"
	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
)

func TestAPIServer(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testAPISuite{})

type testAPISuite struct {
	db  *db.DB
	svr *httptest.Server
}

func (s *testAPISuite) SetUpTest(c *C) {
	var err error
	s.db, err = db.Open(config.NewTestConfig())
	c.Assert(err, IsNil)
	s.svr = httptest.NewServer(NewHandler(s.db))

	for i := 0; i < 5; i++ {
		_, err := s.db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
			return nil, txn.Set([]byte(fmt.Sprintf("key%d", i)), []byte(fmt.Sprintf("value%d", i)))
		})
		c.Assert(err, IsNil)
	}
}

func (s *testAPISuite) TearDownTest(c *C) {
	s.svr.Close()
	c.Assert(s.db.Close(), IsNil)
}

func (s *testAPISuite) get(c *C, path string) (int, []byte) {
	resp, err := http.Get(s.svr.URL + apiPrefix + path)
	c.Assert(err, IsNil)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	c.Assert(err, IsNil)
	return resp.StatusCode, body
}

func (s *testAPISuite) TestStatus(c *C) {
	code, body := s.get(c, "/api/v1/status")
	c.Assert(code, Equals, http.StatusOK)
	got := status{}
	c.Assert(json.Unmarshal(body, &got), IsNil)
	c.Assert(got.Version, Equals, uint64(5))
	c.Assert(got.Keys, Equals, 5)
	c.Assert(got.Revisions, Equals, 5)
	c.Assert(got.APIVersion, Equals, db.APIVersion.String())
}

func (s *testAPISuite) TestGetKey(c *C) {
	code, body := s.get(c, "/api/v1/key?key=key3")
	c.Assert(code, Equals, http.StatusOK)
	kv := KeyValue{}
	c.Assert(json.Unmarshal(body, &kv), IsNil)
	c.Assert(kv, DeepEquals, KeyValue{Key: "key3", Value: "value3"})

	code, _ = s.get(c, "/api/v1/key?key=key3&version=3")
	c.Assert(code, Equals, http.StatusNotFound)

	code, _ = s.get(c, "/api/v1/key?key=missing")
	c.Assert(code, Equals, http.StatusNotFound)

	code, _ = s.get(c, "/api/v1/key?key=key1&version=100")
	c.Assert(code, Equals, http.StatusGone)

	code, _ = s.get(c, `/api/v1/key?key=%5Cxff%5Cx01`)
	c.Assert(code, Equals, http.StatusBadRequest)
}

func (s *testAPISuite) TestGetRange(c *C) {
	code, body := s.get(c, "/api/v1/range?begin=key1&end=key4&limit=2&reverse=true")
	c.Assert(code, Equals, http.StatusOK)
	resp := RangeResponse{}
	c.Assert(json.Unmarshal(body, &resp), IsNil)
	c.Assert(resp.More, IsTrue)
	c.Assert(resp.Version, Equals, uint64(5))
	c.Assert(resp.KeyValues, DeepEquals, []KeyValue{
		{Key: "key3", Value: "value3"},
		{Key: "key2", Value: "value2"},
	})

	code, body = s.get(c, "/api/v1/range?version=2")
	c.Assert(code, Equals, http.StatusOK)
	resp = RangeResponse{}
	c.Assert(json.Unmarshal(body, &resp), IsNil)
	c.Assert(resp.KeyValues, HasLen, 2)
	c.Assert(resp.More, IsFalse)

	code, _ = s.get(c, "/api/v1/range?limit=x")
	c.Assert(code, Equals, http.StatusBadRequest)
}

func (s *testAPISuite) TestDumpAndCompact(c *C) {
	code, body := s.get(c, "/api/v1/dump")
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(strings.Contains(string(body), "5 keys, 5 revisions, version 5"), IsTrue)

	resp, err := http.Post(s.svr.URL+apiPrefix+"/api/v1/compact", "application/json", nil)
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusOK)
}

func (s *testAPISuite) TestMetrics(c *C) {
	code, body := s.get(c, "/metrics")
	c.Assert(code, Equals, http.StatusOK)
	c.Assert(strings.Contains(string(body), "fdbmem_oracle_commits_total"), IsTrue)
}

func (s *testAPISuite) TestServer(c *C) {
	svr := NewServer("127.0.0.1:0", s.db)
	c.Assert(svr.Start(), IsNil)
	resp, err := http.Get("http://" + svr.Addr() + apiPrefix + "/ping")
	c.Assert(err, IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Assert(svr.Close(ctx), IsNil)
}
