// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"toolwire/internal/toolcall"
)

type client struct {
	http *resty.Client
}

func newClient(baseURL string) *client {
	return &client{http: resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")}
}

func (c *client) post(path string, body any, model string) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := c.http.R().SetBody(body).SetResult(&out)
	if model != "" {
		req.SetHeader("X-Model", model)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST %s: %s", path, resp.String())
	}
	return out, nil
}

func (c *client) extract(text, model string) (map[string]interface{}, error) {
	return c.post("/api/extract", map[string]string{"text": text, "model": model}, model)
}

func (c *client) validate(inv *toolcall.Invocation) (map[string]interface{}, error) {
	return c.post("/api/validate", map[string]any{"tool_call": inv}, "")
}

func (c *client) health() (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.http.R().SetResult(&out).Get("/api/health")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/health: %s", resp.String())
	}
	return out, nil
}
