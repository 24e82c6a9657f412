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
	"os"

	"github.com/denisbider/Atomic-sub003/cfg"
	"github.com/denisbider/Atomic-sub003/internal/alog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var bindErr error

var rootCmd = &cobra.Command{
	Use:   "afstool",
	Short: "Inspect and manipulate an AFS filesystem image",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		conf, err := cfg.Resolve()
		if err != nil {
			return err
		}
		format := alog.TextFormat
		if conf.Log.Format == "json" {
			format = alog.JSONFormat
		}
		alog.Init(os.Stderr, format, conf.Log.Level)
		return nil
	},
}

func init() {
	viper.AutomaticEnv()
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(fsckCmd)
}
