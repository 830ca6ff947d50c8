// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package session registers the session.* actions over the session
// store.
package session

import (
	"context"
	"time"

	"github.com/pebbleworks/cf/lib/dispatch"
	sessionlib "github.com/pebbleworks/cf/lib/session"
)

type idParams struct {
	ID string `flag:"id" desc:"Session id" required:"true"`
}

type exportParams struct {
	ID     string `flag:"id" desc:"Session id (default: most recent)"`
	Output string `flag:"output,o" desc:"Destination path (.json, .cbor, optionally .zst or .lz4)" required:"true"`
}

type sessionView struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
}

type listResult struct {
	Success  bool          `json:"success"`
	Count    int           `json:"count"`
	Sessions []sessionView `json:"sessions"`
}

type showResult struct {
	Success bool        `json:"success"`
	Session sessionView `json:"session"`
	Entries int         `json:"entries"`
	Head    string      `json:"chain_head"`
}

type exportResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Path    string `json:"path"`
	Entries int    `json:"entries"`
}

type closeResult struct {
	Success bool        `json:"success"`
	Closed  bool        `json:"closed"`
	Session sessionView `json:"session"`
}

func view(s sessionlib.Session) sessionView {
	return sessionView{
		ID:         s.ID,
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		LastActive: s.LastActive.UTC().Format(time.RFC3339),
	}
}

// Actions returns the session action set. tool names this binary in
// exported bundles.
func Actions(manager *sessionlib.Manager, tool string) []*dispatch.Action {
	return []*dispatch.Action{
		{
			ID:      "session.list",
			Summary: "List stored sessions",
			Run: func(ctx context.Context, tk *dispatch.Toolkit, _ any, _ []string) (any, error) {
				sessions, err := manager.List()
				if err != nil {
					return nil, err
				}
				views := make([]sessionView, 0, len(sessions))
				for _, s := range sessions {
					views = append(views, view(s))
				}
				return listResult{Success: true, Count: len(views), Sessions: views}, nil
			},
		},
		{
			ID:      "session.show",
			Summary: "Show one session with its transcript summary",
			Params:  func() any { return &idParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*idParams)
				bundle, err := manager.Export(p.ID, tool)
				if err != nil {
					return nil, err
				}
				return showResult{
					Success: true,
					Session: view(bundle.Session),
					Entries: len(bundle.Entries),
					Head:    bundle.ChainHead,
				}, nil
			},
		},
		{
			ID:      "session.export",
			Summary: "Export a session bundle to a file",
			Params:  func() any { return &exportParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*exportParams)
				bundle, err := manager.Export(p.ID, tool)
				if err != nil {
					return nil, err
				}
				if err := sessionlib.WriteBundle(p.Output, bundle); err != nil {
					return nil, err
				}
				tk.Infof("Exported session %s to %s", bundle.Session.ID, p.Output)
				return exportResult{
					Success: true,
					ID:      bundle.Session.ID,
					Path:    p.Output,
					Entries: len(bundle.Entries),
				}, nil
			},
		},
		{
			ID:      "session.close",
			Summary: "Close a session",
			Params:  func() any { return &idParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*idParams)
				s, err := manager.CloseByID(p.ID)
				if err != nil {
					return nil, err
				}
				return closeResult{Success: true, Closed: true, Session: view(s)}, nil
			},
		},
	}
}
