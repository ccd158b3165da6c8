// Command boltping is a small diagnostic client for exercising a Bolt
// server: it dials, negotiates a version, authenticates, runs a query, and
// prints the result as a table. It is not a full driver surface (no
// sessions, no transactions) — just enough to kick the tires on pkg/bolt
// and internal/pool from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/gobolt/internal/cli/output"
	"github.com/marmos91/gobolt/internal/cli/prompt"
	"github.com/marmos91/gobolt/internal/logger"
	"github.com/marmos91/gobolt/internal/pool"
	"github.com/marmos91/gobolt/pkg/bolt"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var flags struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Query    string
	Timeout  time.Duration
	Insecure bool
}

var rootCmd = &cobra.Command{
	Use:           "boltping",
	Short:         "Diagnostic client for a Bolt graph database server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Dial a server, authenticate, and run a query",
	RunE:  runPing,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print boltping's version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("boltping %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

func init() {
	pingCmd.Flags().StringVar(&flags.Host, "host", "localhost", "Server host")
	pingCmd.Flags().IntVar(&flags.Port, "port", 7687, "Server port")
	pingCmd.Flags().StringVar(&flags.User, "user", "neo4j", "Username")
	pingCmd.Flags().StringVar(&flags.Password, "password", "", "Password (prompted if omitted)")
	pingCmd.Flags().StringVar(&flags.Database, "database", "", "Database name (default database if empty)")
	pingCmd.Flags().StringVar(&flags.Query, "query", "RETURN 1 AS ok", "Query to run")
	pingCmd.Flags().DurationVar(&flags.Timeout, "timeout", 10*time.Second, "Operation timeout")

	rootCmd.AddCommand(pingCmd, versionCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Config{Level: "info", Format: "text"})

	password := flags.Password
	if password == "" {
		pw, err := prompt.Password("Password")
		if err != nil {
			return err
		}
		password = pw
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()

	addr := bolt.NewAddress(flags.Host, flags.Port)
	auth := &bolt.StaticAuthManager{Token: bolt.BasicAuthToken(flags.User, password, "")}

	dp := pool.NewDirectPool(addr, pool.Config{
		MaxSize:            10,
		AcquisitionTimeout: flags.Timeout,
		OfferedVersions:    bolt.SupportedVersions,
		Auth:               auth,
	})
	defer dp.Close()

	conn, err := dp.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer dp.Release(ctx, conn)

	logger.Info("connected", "address", addr.String(), "bolt_version", conn.Version().String(), "server", conn.ServerAgent())

	fields, qid, err := conn.Run(ctx, bolt.RunRequest{Query: flags.Query, Database: flags.Database}, false)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}

	table := output.NewTableData(fields...)
	_, err = conn.Pull(ctx, -1, qid, false, func(values []any) {
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = fmt.Sprintf("%v", v)
		}
		table.AddRow(row...)
	})
	if err != nil {
		return fmt.Errorf("pull results: %w", err)
	}

	output.PrintTable(os.Stdout, table)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
