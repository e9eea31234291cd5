// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
)

// =============================================================================
// GraphML Wire Shapes
// =============================================================================

// The graph persists as GraphML under the KB working directory. Node and
// edge descriptions ride in <data> children keyed by convention
// (d0=type, d1=description, d2=relation, d3=weight).

type graphMLDoc struct {
	XMLName xml.Name    `xml:"graphml"`
	Xmlns   string      `xml:"xmlns,attr"`
	Graph   graphMLBody `xml:"graph"`
}

type graphMLBody struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// =============================================================================
// Graph Store
// =============================================================================

// GraphStore is the knowledge graph of one KB, persisted as GraphML.
// Access is fenced by the keyed lock "kbgraph:<kb>".
type GraphStore struct {
	kbName string
	path   string
	locks  *locks.KeyedTable
}

// NewGraphStore opens the graph file of one KB.
func NewGraphStore(manager *kb.Manager, kbName string, table *locks.KeyedTable) *GraphStore {
	return &GraphStore{
		kbName: kbName,
		path:   filepath.Join(manager.Dir(kbName), kb.GraphFile),
		locks:  table,
	}
}

func (g *GraphStore) lockName() string { return "kbgraph:" + g.kbName }

// load parses the GraphML file into domain nodes and edges.
func (g *GraphStore) load() ([]datatypes.GraphNode, []datatypes.GraphEdge, error) {
	raw, err := os.ReadFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read graph: %v: %w", err, datatypes.ErrStorageFailure)
	}

	var doc graphMLDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse graph: %v: %w", err, datatypes.ErrStorageFailure)
	}

	nodes := make([]datatypes.GraphNode, 0, len(doc.Graph.Nodes))
	for _, n := range doc.Graph.Nodes {
		node := datatypes.GraphNode{ID: n.ID, Label: n.ID}
		for _, d := range n.Data {
			switch d.Key {
			case "d0":
				node.Type = d.Value
			case "d1":
				node.Description = d.Value
			case "d4":
				node.SourceChunk = d.Value
			}
		}
		nodes = append(nodes, node)
	}

	edges := make([]datatypes.GraphEdge, 0, len(doc.Graph.Edges))
	for _, e := range doc.Graph.Edges {
		edge := datatypes.GraphEdge{Source: e.Source, Target: e.Target, Weight: 1}
		for _, d := range e.Data {
			switch d.Key {
			case "d2":
				edge.Relation = d.Value
			case "d1":
				edge.Description = d.Value
			case "d3":
				fmt.Sscanf(d.Value, "%f", &edge.Weight)
			}
		}
		edges = append(edges, edge)
	}
	return nodes, edges, nil
}

// persist writes the GraphML file atomically.
func (g *GraphStore) persist(nodes []datatypes.GraphNode, edges []datatypes.GraphEdge) error {
	doc := graphMLDoc{
		Xmlns: "http://graphml.graphdrawing.org/xmlns",
		Graph: graphMLBody{ID: "G", EdgeDefault: "undirected"},
	}
	for _, n := range nodes {
		node := graphMLNode{ID: n.ID}
		if n.Type != "" {
			node.Data = append(node.Data, graphMLData{Key: "d0", Value: n.Type})
		}
		if n.Description != "" {
			node.Data = append(node.Data, graphMLData{Key: "d1", Value: n.Description})
		}
		if n.SourceChunk != "" {
			node.Data = append(node.Data, graphMLData{Key: "d4", Value: n.SourceChunk})
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
	}
	for _, e := range edges {
		edge := graphMLEdge{Source: e.Source, Target: e.Target}
		if e.Relation != "" {
			edge.Data = append(edge.Data, graphMLData{Key: "d2", Value: e.Relation})
		}
		if e.Weight != 0 && e.Weight != 1 {
			edge.Data = append(edge.Data, graphMLData{Key: "d3", Value: fmt.Sprintf("%g", e.Weight)})
		}
		doc.Graph.Edges = append(doc.Graph.Edges, edge)
	}

	raw, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph: %v: %w", err, datatypes.ErrStorageFailure)
	}
	return atomicWrite(g.path, append([]byte(xml.Header), raw...))
}

// Merge folds new nodes and edges into the stored graph. Nodes merge by
// id (longer description wins); duplicate edges accumulate weight.
func (g *GraphStore) Merge(ctx context.Context, nodes []datatypes.GraphNode, edges []datatypes.GraphEdge) error {
	h, err := g.locks.Acquire(ctx, g.lockName(), "merge")
	if err != nil {
		return err
	}
	defer h.Release()

	existing, existingEdges, err := g.load()
	if err != nil {
		return err
	}

	byID := make(map[string]*datatypes.GraphNode, len(existing))
	merged := make([]datatypes.GraphNode, 0, len(existing)+len(nodes))
	for _, n := range existing {
		merged = append(merged, n)
		byID[n.ID] = &merged[len(merged)-1]
	}
	for _, n := range nodes {
		if have, ok := byID[n.ID]; ok {
			if len(n.Description) > len(have.Description) {
				have.Description = n.Description
			}
			continue
		}
		merged = append(merged, n)
		byID[n.ID] = &merged[len(merged)-1]
	}

	edgeKey := func(e datatypes.GraphEdge) string {
		a, b := e.Source, e.Target
		if a > b {
			a, b = b, a
		}
		return a + "\x00" + b + "\x00" + e.Relation
	}
	byKey := make(map[string]*datatypes.GraphEdge, len(existingEdges))
	mergedEdges := make([]datatypes.GraphEdge, 0, len(existingEdges)+len(edges))
	for _, e := range existingEdges {
		mergedEdges = append(mergedEdges, e)
		byKey[edgeKey(e)] = &mergedEdges[len(mergedEdges)-1]
	}
	for _, e := range edges {
		if have, ok := byKey[edgeKey(e)]; ok {
			have.Weight += e.Weight
			continue
		}
		if e.Weight == 0 {
			e.Weight = 1
		}
		mergedEdges = append(mergedEdges, e)
		byKey[edgeKey(e)] = &mergedEdges[len(mergedEdges)-1]
	}

	return g.persist(merged, mergedEdges)
}

// Subgraph returns the neighborhood around a label up to maxDepth hops.
// Label matching is case-insensitive on node id and label.
func (g *GraphStore) Subgraph(ctx context.Context, label string, maxDepth int) (*datatypes.Subgraph, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	h, err := g.locks.Acquire(ctx, g.lockName(), "subgraph")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	nodes, edges, err := g.load()
	if err != nil {
		return nil, err
	}

	want := strings.ToLower(label)
	seed := ""
	for _, n := range nodes {
		if strings.ToLower(n.ID) == want || strings.ToLower(n.Label) == want {
			seed = n.ID
			break
		}
	}
	if seed == "" {
		return nil, datatypes.NotFoundf("graph label %q", label)
	}

	adjacent := make(map[string][]datatypes.GraphEdge)
	for _, e := range edges {
		adjacent[e.Source] = append(adjacent[e.Source], e)
		adjacent[e.Target] = append(adjacent[e.Target], e)
	}

	inScope := map[string]bool{seed: true}
	frontier := []string{seed}
	var scopeEdges []datatypes.GraphEdge
	seenEdge := map[string]bool{}
	for depth := 0; depth < maxDepth; depth++ {
		var next []string
		for _, id := range frontier {
			for _, e := range adjacent[id] {
				key := e.Source + "\x00" + e.Target + "\x00" + e.Relation
				if !seenEdge[key] {
					seenEdge[key] = true
					scopeEdges = append(scopeEdges, e)
				}
				for _, other := range []string{e.Source, e.Target} {
					if !inScope[other] {
						inScope[other] = true
						next = append(next, other)
					}
				}
			}
		}
		frontier = next
	}

	var scopeNodes []datatypes.GraphNode
	for _, n := range nodes {
		if inScope[n.ID] {
			scopeNodes = append(scopeNodes, n)
		}
	}
	return &datatypes.Subgraph{Nodes: scopeNodes, Edges: scopeEdges}, nil
}

// Neighbors returns the one-hop neighborhood of the given node ids.
func (g *GraphStore) Neighbors(ctx context.Context, ids []string) ([]datatypes.GraphNode, []datatypes.GraphEdge, error) {
	h, err := g.locks.Acquire(ctx, g.lockName(), "neighbors")
	if err != nil {
		return nil, nil, err
	}
	defer h.Release()

	nodes, edges, err := g.load()
	if err != nil {
		return nil, nil, err
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strings.ToLower(id)] = true
	}

	inScope := make(map[string]bool)
	var scopeEdges []datatypes.GraphEdge
	for _, e := range edges {
		if want[strings.ToLower(e.Source)] || want[strings.ToLower(e.Target)] {
			scopeEdges = append(scopeEdges, e)
			inScope[e.Source] = true
			inScope[e.Target] = true
		}
	}

	var scopeNodes []datatypes.GraphNode
	for _, n := range nodes {
		if inScope[n.ID] {
			scopeNodes = append(scopeNodes, n)
		}
	}
	return scopeNodes, scopeEdges, nil
}

// TopNodes returns the k highest-degree nodes with their incident edges,
// the "global" traversal's community summary approximation.
func (g *GraphStore) TopNodes(ctx context.Context, k int) ([]datatypes.GraphNode, []datatypes.GraphEdge, error) {
	h, err := g.locks.Acquire(ctx, g.lockName(), "top_nodes")
	if err != nil {
		return nil, nil, err
	}
	defer h.Release()

	nodes, edges, err := g.load()
	if err != nil {
		return nil, nil, err
	}

	degree := make(map[string]int)
	for _, e := range edges {
		degree[e.Source]++
		degree[e.Target]++
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if degree[nodes[i].ID] != degree[nodes[j].ID] {
			return degree[nodes[i].ID] > degree[nodes[j].ID]
		}
		return nodes[i].ID < nodes[j].ID
	})
	if k > 0 && k < len(nodes) {
		nodes = nodes[:k]
	}

	keep := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		keep[n.ID] = true
	}
	var keptEdges []datatypes.GraphEdge
	for _, e := range edges {
		if keep[e.Source] && keep[e.Target] {
			keptEdges = append(keptEdges, e)
		}
	}
	return nodes, keptEdges, nil
}

// Stats counts the persisted graph.
func (g *GraphStore) Stats(ctx context.Context) (*datatypes.GraphStats, error) {
	h, err := g.locks.Acquire(ctx, g.lockName(), "stats")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	nodes, edges, err := g.load()
	if err != nil {
		return nil, err
	}
	return &datatypes.GraphStats{NodeCount: len(nodes), EdgeCount: len(edges)}, nil
}

// Clear rewrites the graph file empty.
func (g *GraphStore) Clear(ctx context.Context) error {
	h, err := g.locks.Acquire(ctx, g.lockName(), "clear")
	if err != nil {
		return err
	}
	defer h.Release()
	return g.persist(nil, nil)
}
