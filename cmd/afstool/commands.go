// Copyright 2025 Google LLC
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
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/denisbider/Atomic-sub003/afs"
	"github.com/denisbider/Atomic-sub003/cfg"
	"github.com/denisbider/Atomic-sub003/internal/alog"
	"github.com/denisbider/Atomic-sub003/internal/metrics"
	"github.com/spf13/cobra"
)

func resolvePath(ctx context.Context, a *afs.Afs, p string) (afs.ObjId, afs.ObjType, error) {
	if p == "" || p == "/" {
		return afs.Root, afs.TypeDir, nil
	}
	entries, res, err := a.CrackPath(ctx, afs.Root, p)
	if err != nil {
		return afs.ObjId{}, 0, err
	}
	if !res.Ok() || len(entries) == 0 {
		return afs.ObjId{}, 0, fmt.Errorf("afstool: path %q not found", p)
	}
	last := entries[len(entries)-1]
	return last.Id, last.Type, nil
}

func resolveParent(ctx context.Context, a *afs.Afs, p string) (parent afs.ObjId, name string, err error) {
	clean := strings.TrimSuffix(p, "/")
	dir, base := path.Split(clean)
	if base == "" {
		return afs.ObjId{}, "", fmt.Errorf("afstool: path %q has no final component", p)
	}
	parent, typ, err := resolvePath(ctx, a, dir)
	if err != nil {
		return afs.ObjId{}, "", err
	}
	if typ != afs.TypeDir {
		return afs.ObjId{}, "", fmt.Errorf("afstool: %q is not a directory", dir)
	}
	return parent, base, nil
}

func withFs(create bool, fn func(ctx context.Context, a *afs.Afs) error) error {
	ctx := context.Background()
	conf, err := cfg.Resolve()
	if err != nil {
		return err
	}
	a, err := openFs(ctx, conf, create)
	if err != nil {
		return err
	}

	stop, err := maybeServeMetrics(conf, a)
	if err != nil {
		return err
	}
	defer stop()

	return fn(ctx, a)
}

// maybeServeMetrics starts a Prometheus /metrics endpoint for the
// lifetime of one command when conf.Metrics.Addr is set, using a
// private registry so successive afstool invocations in the same
// process (as in tests) never collide on metric registration. The
// returned stop func is always safe to call and never blocks long.
func maybeServeMetrics(conf cfg.Config, a *afs.Afs) (stop func(), err error) {
	if conf.Metrics.Addr == "" {
		return func() {}, nil
	}
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, "afs", a.Store()); err != nil {
		return nil, fmt.Errorf("afstool: registering metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(reg))
	srv := &http.Server{Addr: conf.Metrics.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			alog.Errorf("metrics server: %v", err)
		}
	}()
	alog.Infof("serving metrics on http://%s/metrics", conf.Metrics.Addr)
	return func() { srv.Close() }, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Format a fresh, empty AFS filesystem",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(true, func(ctx context.Context, a *afs.Afs) error {
			fmt.Fprintln(cmd.OutOrStdout(), "initialized")
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			parent, name, err := resolveParent(ctx, a, args[0])
			if err != nil {
				return err
			}
			_, res, err := a.DirCreate(ctx, parent, name, nil)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: mkdir: %s", res)
			}
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <local-file> <afs-path>",
	Short: "Upload a local file's contents into the AFS filesystem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			parent, name, err := resolveParent(ctx, a, args[1])
			if err != nil {
				return err
			}
			id, res, err := a.FileCreate(ctx, parent, name, nil)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: put: %s", res)
			}
			if res, err := a.FileWrite(ctx, id, 0, data); err != nil {
				return err
			} else if !res.Ok() {
				return fmt.Errorf("afstool: put: %s", res)
			}
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <afs-path>",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			id, typ, err := resolvePath(ctx, a, args[0])
			if err != nil {
				return err
			}
			if typ != afs.TypeFile {
				return fmt.Errorf("afstool: %q is not a file", args[0])
			}
			info, res, err := a.ObjStat(ctx, id)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: get: %s", res)
			}
			buf := make([]byte, info.Size)
			n, res, err := a.FileRead(ctx, id, 0, buf)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: get: %s", res)
			}
			_, err = cmd.OutOrStdout().Write(buf[:n])
			return err
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory's entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := "/"
		if len(args) == 1 {
			p = args[0]
		}
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			id, typ, err := resolvePath(ctx, a, p)
			if err != nil {
				return err
			}
			if typ != afs.TypeDir {
				return fmt.Errorf("afstool: %q is not a directory", p)
			}
			entries, res, err := a.DirRead(ctx, id)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: ls: %s", res)
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%-5s %s\n", e.Type, e.Name)
			}
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file or empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			id, _, err := resolvePath(ctx, a, args[0])
			if err != nil {
				return err
			}
			res, err := a.ObjDelete(ctx, id)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: rm: %s", res)
			}
			return nil
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Move or rename a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			id, _, err := resolvePath(ctx, a, args[0])
			if err != nil {
				return err
			}
			newParent, newName, err := resolveParent(ctx, a, args[1])
			if err != nil {
				return err
			}
			res, err := a.ObjMove(ctx, id, newParent, newName)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: mv: %s", res)
			}
			return nil
		})
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Print an object's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			id, _, err := resolvePath(ctx, a, args[0])
			if err != nil {
				return err
			}
			info, res, err := a.ObjStat(ctx, id)
			if err != nil {
				return err
			}
			if !res.Ok() {
				return fmt.Errorf("afstool: stat: %s", res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "name:     %s\n", info.Name)
			fmt.Fprintf(w, "type:     %s\n", info.Type)
			fmt.Fprintf(w, "created:  %s\n", info.CreateTime)
			fmt.Fprintf(w, "modified: %s\n", info.ModifyTime)
			if info.Type == afs.TypeFile {
				fmt.Fprintf(w, "size:     %d\n", info.Size)
			} else {
				fmt.Fprintf(w, "entries:  %d\n", info.EntryCount)
			}
			return nil
		})
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Verify the free list and report free space",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(false, func(ctx context.Context, a *afs.Afs) error {
			if err := a.VerifyFreeList(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "free list OK: %d blocks (%d bytes) free\n", a.FreeSpaceBlocks(), a.FreeSpaceBytes())
			return nil
		})
	},
}
