package main

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/metron-io/metron/pkg/catalog"
	"github.com/metron-io/metron/pkg/enforce"
	"github.com/metron-io/metron/pkg/events"
	metronhttp "github.com/metron-io/metron/pkg/http"
	"github.com/metron-io/metron/pkg/limits"
	"github.com/metron-io/metron/pkg/quota"
	"github.com/metron-io/metron/pkg/refresher"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/spf13/cobra"
)

func main() {
	Execute()
}

func DieOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewSQS() (*sqs.SQS, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("New AWS session: %w", err)
	}
	return sqs.New(sess), nil
}

func openDB(ctx context.Context, cmd *cobra.Command) *dbsql.DB {
	dbDriver, err := cmd.Flags().GetString("db-driver")
	DieOnErr(err)
	dbDSN, err := cmd.Flags().GetString("db-dsn")
	DieOnErr(err)
	db, err := dbsql.Open(dbDriver, dbDSN)
	DieOnErr(err)
	DieOnErr(db.PingContext(ctx))
	return db
}

var rootCmd = &cobra.Command{
	Use:   "metron",
	Short: "Metron tracks disk space usage per relation or role and enforces configured quotas",
	Long: `Metron is a service that tracks how much disk space each relation or role
of a storage deployment consumes, compares that usage against configured
limits, and answers write-path checks that reject writes over quota.`,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Start the Metron server",
	Example: "metron run --scope=proddb --sqs-name=metron-queue --db-dsn=postgres:///",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		db := openDB(ctx, cmd)
		fmt.Println("Open DB")

		limitSource, err := limits.NewSQLSource(db)
		DieOnErr(err)
		resolver, err := catalog.NewSQLResolver(db)
		DieOnErr(err)

		fmt.Println("Open SQS")
		client, err := NewSQS()
		DieOnErr(err)
		queueName, err := cmd.Flags().GetString("sqs-name")
		DieOnErr(err)
		queueURL, err := client.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
			QueueName: aws.String(queueName),
		})
		DieOnErr(err)

		keyPattern, err := cmd.Flags().GetString("pattern")
		DieOnErr(err)
		keyRegexp, err := regexp.Compile(keyPattern)
		DieOnErr(err)
		keyReplacement, err := cmd.Flags().GetString("replacement")
		DieOnErr(err)

		scope, err := cmd.Flags().GetString("scope")
		DieOnErr(err)
		capacity, err := cmd.Flags().GetInt("capacity")
		DieOnErr(err)
		refreshInterval, err := cmd.Flags().GetDuration("refresh-interval")
		DieOnErr(err)
		modeName, err := cmd.Flags().GetString("enforce")
		DieOnErr(err)
		mode, err := enforce.ParseMode(modeName)
		DieOnErr(err)
		listenAddress, err := cmd.Flags().GetString("listen")
		DieOnErr(err)

		logger := log.Default()
		logger.SetPrefix("[metron] ")

		store := quota.New(capacity)
		sizes := events.NewSizes()
		gate := enforce.NewGate(mode, store, resolver)

		runCtx, _ := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)

		server := &metronhttp.Server{Store: store, Gate: gate, Scope: scope}
		server.Serve(runCtx, listenAddress)

		r := &refresher.Refresher{
			Log:      logger,
			Store:    store,
			Limits:   limitSource,
			Sizes:    sizes,
			Scope:    scope,
			Interval: refreshInterval,
		}
		go r.Run(runCtx)

		fmt.Println("Starting to listen...")
		events.Poll(runCtx, logger, client, aws.StringValue(queueURL.QueueUrl), keyRegexp, keyReplacement, sizes)
		fmt.Println("Done!")
	},
}

var setLimitCmd = &cobra.Command{
	Use:     "set-limit entity limit-bytes",
	Short:   "Configure the quota limit for an entity (-1 removes the limit)",
	Example: "metron set-limit orders 2000000 --db-dsn=postgres:///",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		db := openDB(ctx, cmd)
		limitSource, err := limits.NewSQLSource(db)
		DieOnErr(err)

		entity := args[0]
		limitBytes, err := strconv.ParseInt(args[1], 10, 64)
		DieOnErr(err)
		if limitBytes == quota.NoLimit {
			DieOnErr(limitSource.Unset(ctx, entity))
			return
		}
		DieOnErr(limitSource.Set(ctx, entity, limitBytes))
	},
}

func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().String("db-driver", "pgx", "Database driver code")
	cmd.Flags().StringP("db-dsn", "d", "", "DSN to connect to database")
	cmd.MarkFlagRequired("db-dsn")
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setLimitCmd)

	runCmd.Flags().StringP("sqs-name", "q", "", "Name of topic on SQS with storage events to process")
	runCmd.MarkFlagRequired("sqs-name")

	addDBFlags(runCmd)
	addDBFlags(setLimitCmd)

	runCmd.Flags().StringP("scope", "s", "", "Scope (database/tenant) this instance is authoritative for")
	runCmd.MarkFlagRequired("scope")

	runCmd.Flags().StringP("pattern", "p", `^s3://[^/]*/rel/([^/]*)/.*$`, "Regexp matching paths to track")
	runCmd.Flags().StringP("replacement", "r", `$1`, "Replacement on path matched by `--pattern' generating the metered entity")

	runCmd.Flags().Int("capacity", 1024, "Maximum number of tracked entries in the quota store")
	runCmd.Flags().Duration("refresh-interval", 15*time.Second, "How often to push sizes and limits into the quota store")
	runCmd.Flags().String("enforce", "relation", "Enforcement mode: off, relation, owner or both")
	runCmd.Flags().StringP("listen", "l", ":8321", "Address to serve HTTP on")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
