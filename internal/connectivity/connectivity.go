// Package connectivity fetches the agent graph of a network from the backend.
package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ineilsen/agent-builder-sub002/internal/layout"
	"github.com/ineilsen/agent-builder-sub002/internal/metrics"
)

// Graph is a network's agents and the links between them.
type Graph struct {
	Nodes []layout.Node `json:"nodes" yaml:"nodes"`
	Edges []layout.Edge `json:"edges" yaml:"edges"`
}

type wireNode struct {
	ID   string `json:"id"`
	Data struct {
		Label string `json:"label"`
	} `json:"data"`
	Style struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"style"`
	Position layout.Point `json:"position"`
}

type wireEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type wireGraph struct {
	Nodes []wireNode `json:"nodes"`
	Edges []wireEdge `json:"edges"`
}

// Client talks to the connectivity endpoints under apiBase.
type Client struct {
	apiBase string
	client  *http.Client
}

func NewClient(apiBase string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{apiBase: strings.TrimRight(apiBase, "/"), client: client}
}

// Networks lists the agent networks the backend serves. The backend answers
// either {"agents": [...]} or a bare array, with entries that are names or
// objects carrying agent_name.
func (c *Client) Networks(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "list", "list")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode network list: invalid json")
	}

	root := gjson.ParseBytes(body)
	agents := root
	if root.IsObject() {
		agents = root.Get("agents")
	}
	if !agents.IsArray() {
		return nil, nil
	}
	var names []string
	agents.ForEach(func(_, v gjson.Result) bool {
		name := v.String()
		if v.IsObject() {
			name = v.Get("agent_name").String()
		}
		if name != "" {
			names = append(names, name)
		}
		return true
	})
	return names, nil
}

func (c *Client) get(ctx context.Context, path, stage string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiBase+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", stage, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues(stage, "http").Inc()
		return nil, fmt.Errorf("%s request: %w", stage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.Errors.WithLabelValues(stage, "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s status %d: %s", stage, resp.StatusCode, body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", stage, err)
	}
	return body, nil
}

// Fetch returns the graph of network. compact selects the condensed view.
func (c *Client) Fetch(ctx context.Context, network string, compact bool) (*Graph, error) {
	endpoint := "connectivity"
	if compact {
		endpoint = "compact_connectivity"
	}
	body, err := c.get(ctx, endpoint+"/"+url.PathEscape(network), "connectivity")
	if err != nil {
		return nil, err
	}

	var wg wireGraph
	if err = json.Unmarshal(body, &wg); err != nil {
		return nil, fmt.Errorf("decode connectivity: %w", err)
	}

	g := &Graph{
		Nodes: make([]layout.Node, 0, len(wg.Nodes)),
		Edges: make([]layout.Edge, 0, len(wg.Edges)),
	}
	for _, n := range wg.Nodes {
		if n.ID == "" {
			continue
		}
		label := n.Data.Label
		if label == "" {
			label = n.ID
		}
		g.Nodes = append(g.Nodes, layout.Node{
			ID:       n.ID,
			Label:    label,
			Width:    n.Style.Width,
			Height:   n.Style.Height,
			Position: n.Position,
		})
	}
	for _, e := range wg.Edges {
		if e.Source == "" || e.Target == "" {
			continue
		}
		g.Edges = append(g.Edges, layout.Edge{Source: e.Source, Target: e.Target})
	}
	return g, nil
}
