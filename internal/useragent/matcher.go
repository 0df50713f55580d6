// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package useragent

import "strings"

// matcher is a case-insensitive Aho-Corasick automaton over a fixed rule
// set. It finds every rule occurring in a text in one pass, O(n + m + z).
// A matcher is built once and is read-only afterwards, so it is safe for
// concurrent use without locking.
type matcher struct {
	root  *acNode
	rules []rule
}

// rule is one pattern. Lower rank wins when several rules match.
type rule struct {
	pattern string
	label   string
	rank    int
}

type acNode struct {
	children map[rune]*acNode
	failure  *acNode
	output   []int // indices into rules ending here
}

func newACNode() *acNode {
	return &acNode{children: make(map[rune]*acNode)}
}

// newMatcher builds the automaton. Rule ranks follow slice order.
func newMatcher(rules []rule) *matcher {
	m := &matcher{root: newACNode(), rules: make([]rule, len(rules))}
	for i, r := range rules {
		r.pattern = strings.ToLower(r.pattern)
		r.rank = i
		m.rules[i] = r
		m.insert(i, r.pattern)
	}
	m.buildFailureLinks()
	return m
}

func (m *matcher) insert(index int, pattern string) {
	node := m.root
	for _, ch := range pattern {
		next, ok := node.children[ch]
		if !ok {
			next = newACNode()
			node.children[ch] = next
		}
		node = next
	}
	node.output = append(node.output, index)
}

// buildFailureLinks links every node to its longest proper suffix in the
// trie, breadth first.
func (m *matcher) buildFailureLinks() {
	queue := make([]*acNode, 0, len(m.root.children))
	for _, child := range m.root.children {
		child.failure = m.root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for ch, child := range current.children {
			queue = append(queue, child)

			fail := current.failure
			for fail != nil && fail.children[ch] == nil {
				fail = fail.failure
			}
			if fail == nil {
				child.failure = m.root
				continue
			}
			child.failure = fail.children[ch]
			child.output = append(child.output, child.failure.output...)
		}
	}
}

// best returns the label of the lowest-ranked rule found in text.
func (m *matcher) best(text string) (string, bool) {
	if text == "" || len(m.rules) == 0 {
		return "", false
	}

	bestRank := -1
	node := m.root
	for _, ch := range strings.ToLower(text) {
		for node != nil && node.children[ch] == nil {
			node = node.failure
		}
		if node == nil {
			node = m.root
			continue
		}
		node = node.children[ch]

		for _, idx := range node.output {
			if bestRank == -1 || idx < bestRank {
				bestRank = idx
			}
		}
		if bestRank == 0 {
			break
		}
	}

	if bestRank == -1 {
		return "", false
	}
	return m.rules[bestRank].label, true
}
