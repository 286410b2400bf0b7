// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peermap/peermap/pkg/server"
)

var (
	log        *logrus.Logger
	disableTLS bool
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the peermap server",
	Run:   runServer,
}

func init() {
	RootCmd.AddCommand(startCmd)

	startCmd.Flags().StringP("bind", "b", "127.0.0.1:3001", "Bind the server to host:port. Leave host empty to bind to all interfaces.")
	viper.BindPFlag("server.bind", startCmd.Flags().Lookup("bind"))
	startCmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	viper.BindPFlag("server.logLevel", startCmd.Flags().Lookup("log-level"))
	startCmd.Flags().BoolVarP(&disableTLS, "disable-tls", "d", false, "Overrides config option to enable TLS")

	viper.SetDefault("server.statsPassword", "")
	viper.SetDefault("tls.useTls", true)
}

func runServer(cmd *cobra.Command, args []string) {
	log = logrus.New()
	log.Out = os.Stderr
	log.Formatter = new(logrus.TextFormatter)
	if level, err := logrus.ParseLevel(viper.GetString("server.logLevel")); err == nil {
		log.Level = level
	} else {
		log.Level = logrus.InfoLevel
	}

	srv := &server.Server{
		StatsPassword: viper.GetString("server.statsPassword"),
		Log:           log,
	}

	bindAddr := viper.GetString("server.bind")
	certFile := os.ExpandEnv(viper.GetString("tls.certFile"))
	keyFile := os.ExpandEnv(viper.GetString("tls.keyFile"))
	useTLS := viper.GetBool("tls.useTls")

	log.Info("Starting peermapd")
	if useTLS && !disableTLS {
		log.Fatal(srv.ListenAndServeTLS(bindAddr, certFile, keyFile))
	} else {
		log.Fatal(srv.ListenAndServe(bindAddr))
	}
}
