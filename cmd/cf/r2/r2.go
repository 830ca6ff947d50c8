// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package r2 registers the r2.* actions over a Cloudflare R2 bucket.
package r2

import (
	"context"

	"github.com/pebbleworks/cf/lib/dispatch"
	"github.com/pebbleworks/cf/lib/pebble"
	r2lib "github.com/pebbleworks/cf/lib/r2"
)

// Open resolves the bucket for one invocation. The environment is
// read lazily so `cf --manifest` and help work without credentials.
type Open func(ctx context.Context) (*r2lib.Bucket, error)

type uploadParams struct {
	File   string `flag:"file,f" desc:"Local file to upload" required:"true"`
	Key    string `flag:"key,k" desc:"Object key (default: folder prefix + file name)"`
	Public bool   `flag:"public" desc:"Include the public URL in the result" default:"true"`
}

type listParams struct {
	Prefix string `flag:"prefix,p" desc:"Key prefix filter (e.g. uploads/)"`
	Limit  int    `flag:"limit,l" desc:"Maximum objects to return" default:"100"`
}

type keyParams struct {
	Key string `flag:"key,k" desc:"Object key" required:"true"`
}

// Actions returns the r2 action set. open defaults to the
// environment-configured bucket.
func Actions(open Open) []*dispatch.Action {
	if open == nil {
		open = r2lib.FromEnv
	}

	return []*dispatch.Action{
		{
			ID:      "r2.upload",
			Summary: "Upload a file to R2 storage",
			Params:  func() any { return &uploadParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*uploadParams)
				bucket, err := open(ctx)
				if err != nil {
					return nil, err
				}
				tk.Infof("Uploading file: %s", p.File)
				return bucket.Upload(ctx, p.File, p.Key, p.Public)
			},
		},
		{
			ID:      "r2.list",
			Summary: "List objects in R2 storage",
			Params:  func() any { return &listParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*listParams)
				bucket, err := open(ctx)
				if err != nil {
					return nil, err
				}
				tk.Infof("Listing objects with prefix: %q", p.Prefix)
				return bucket.List(ctx, p.Prefix, p.Limit)
			},
		},
		{
			ID:      "r2.delete",
			Summary: "Delete an object from R2 storage",
			Params:  func() any { return &keyParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*keyParams)
				bucket, err := open(ctx)
				if err != nil {
					return nil, err
				}
				if err := tk.Guard(ctx, "r2.delete", pebble.RiskHigh, p.Key); err != nil {
					return nil, err
				}
				tk.Infof("Deleting object: %s", p.Key)
				return bucket.Delete(ctx, p.Key)
			},
		},
		{
			ID:      "r2.info",
			Summary: "Show object metadata",
			Params:  func() any { return &keyParams{} },
			Run: func(ctx context.Context, tk *dispatch.Toolkit, params any, _ []string) (any, error) {
				p := params.(*keyParams)
				bucket, err := open(ctx)
				if err != nil {
					return nil, err
				}
				tk.Infof("Getting info for: %s", p.Key)
				return bucket.Info(ctx, p.Key)
			},
		},
	}
}
